package domain

// ItemSessionState is the lifecycle state of the current item session.
type ItemSessionState string

const (
	ItemInteracting ItemSessionState = "interacting"
	ItemSuspended   ItemSessionState = "suspended"
	ItemClosed      ItemSessionState = "closed"
)

// IsValid reports whether the state is known.
func (s ItemSessionState) IsValid() bool {
	switch s {
	case ItemInteracting, ItemSuspended, ItemClosed:
		return true
	}
	return false
}

// UnboundedAttempts is the RemainingAttempts value of items without an
// attempt limit.
const UnboundedAttempts = -1

// TestContext is the navigational state of one test-taker. It is a value:
// every change produces a copy, so a context handed to a caller can never be
// altered by a later navigation.
type TestContext struct {
	ItemPosition      int              `json:"item_position"`
	ItemIdentifier    string           `json:"item_identifier"`
	SectionID         string           `json:"section_id"`
	TestPartID        string           `json:"test_part_id"`
	NumberPresented   int              `json:"number_presented"`
	RemainingAttempts int              `json:"remaining_attempts"`
	IsLast            bool             `json:"is_last"`
	IsAdaptive        bool             `json:"is_adaptive"`
	IsTimeout         bool             `json:"is_timeout"`
	ItemSessionState  ItemSessionState `json:"item_session_state"`
	EndWarningShown   bool             `json:"end_warning_shown,omitempty"`
}

// WithTimeout returns a copy flagged as timed out.
func (c TestContext) WithTimeout(timeout bool) TestContext {
	c.IsTimeout = timeout
	return c
}

// WithItemSessionState returns a copy with the given item session state.
func (c TestContext) WithItemSessionState(s ItemSessionState) TestContext {
	c.ItemSessionState = s
	return c
}

// WithEndWarningShown returns a copy recording that the end-of-test warning
// has been displayed.
func (c TestContext) WithEndWarningShown(shown bool) TestContext {
	c.EndWarningShown = shown
	return c
}

// Located returns a copy positioned at loc. Derived counters are left to the
// caller.
func (c TestContext) Located(loc Location) TestContext {
	c.ItemPosition = loc.Item.Position
	c.ItemIdentifier = loc.Item.ID
	c.SectionID = loc.Section.ID
	c.TestPartID = loc.Part.ID
	c.IsAdaptive = loc.Section.Adaptive
	return c
}
