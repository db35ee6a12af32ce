package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/felixgeelhaar/proctor/internal/branch"
)

// Item categories with navigation meaning.
const (
	CategoryNoExitTimedSectionWarning = "x-tao-option-noExitTimedSectionWarning"
	CategoryNoExitTimedSectionShort   = "noExitTimedSectionWarning"
)

// Branch rule targets that leave the current structure instead of naming one.
const (
	TargetExitSection  = "EXIT_SECTION"
	TargetExitTestPart = "EXIT_TESTPART"
	TargetExitTest     = "EXIT_TEST"
)

// TimerScope identifies the structure a timer constrains.
type TimerScope string

const (
	TimerScopeTest    TimerScope = "test"
	TimerScopePart    TimerScope = "part"
	TimerScopeSection TimerScope = "section"
	TimerScopeItem    TimerScope = "item"
)

// TimerType distinguishes maximum and minimum time limits.
type TimerType string

const (
	TimerTypeMax TimerType = "max"
	TimerTypeMin TimerType = "min"
)

// Timer is the time limit attached to a section.
type Timer struct {
	Scope TimerScope    `json:"scope" yaml:"scope"`
	Type  TimerType     `json:"type" yaml:"type"`
	Max   time.Duration `json:"max" yaml:"max"`
}

// IsSectionMax reports whether the timer is a maximum limit on a section.
func (t *Timer) IsSectionMax() bool {
	return t != nil && t.Scope == TimerScopeSection && t.Type == TimerTypeMax
}

// Item is a leaf of the test map. Correct holds the correct response of
// each of the item's response variables, used by branch rules. It never
// leaves the server.
type Item struct {
	ID          string              `json:"id"`
	Position    int                 `json:"position"`
	Categories  []string            `json:"categories,omitempty"`
	MaxAttempts int                 `json:"max_attempts,omitempty"` // 0 means unbounded
	Correct     map[string][]string `json:"-"`
	BranchRules []branch.Rule       `json:"-"`
}

// HasCategory reports whether the item is flagged with the category.
func (i *Item) HasCategory(c string) bool {
	return slices.Contains(i.Categories, c)
}

// Section groups items. Adaptive sections expose their items as a pool from
// which the adaptive selector draws.
type Section struct {
	ID          string        `json:"id"`
	Label       string        `json:"label,omitempty"`
	Timer       *Timer        `json:"timer,omitempty"`
	Adaptive    bool          `json:"adaptive,omitempty"`
	Items       []Item        `json:"items"`
	BranchRules []branch.Rule `json:"-"`
}

// First returns the position of the section's first item.
func (s *Section) First() int { return s.Items[0].Position }

// Last returns the position of the section's last item.
func (s *Section) Last() int { return s.Items[len(s.Items)-1].Position }

// ItemIDs returns the section's item identifiers in map order.
func (s *Section) ItemIDs() []string {
	ids := make([]string, len(s.Items))
	for i, it := range s.Items {
		ids[i] = it.ID
	}
	return ids
}

// Part is a test part. Linear parts only allow forward navigation.
type Part struct {
	ID          string        `json:"id"`
	Label       string        `json:"label,omitempty"`
	Linear      bool          `json:"linear,omitempty"`
	Sections    []Section     `json:"sections"`
	BranchRules []branch.Rule `json:"-"`
}

// First returns the position of the part's first item.
func (p *Part) First() int { return p.Sections[0].First() }

// Last returns the position of the part's last item.
func (p *Part) Last() int { return p.Sections[len(p.Sections)-1].Last() }

// Location resolves a position to its part, section and item.
type Location struct {
	Part    *Part
	Section *Section
	Item    *Item
}

// Stats are aggregate counts over the map.
type Stats struct {
	Parts    int `json:"parts"`
	Sections int `json:"sections"`
	Items    int `json:"items"`
}

// TestMap is the read-only hierarchical index of a test. Positions follow a
// depth-first traversal of parts, sections and items, starting at 0. A map is
// shared between executions and must not be modified after Index.
type TestMap struct {
	ID    string `json:"id"`
	Parts []Part `json:"parts"`

	locations []Location
	byItem    map[string]int
	sections  map[string]*Section
	parts     map[string]*Part
	stats     Stats
}

// Index assigns positions depth-first, validates the structure and builds
// lookup tables. It must be called once before the map is shared.
func (m *TestMap) Index() error {
	m.locations = nil
	m.byItem = make(map[string]int)
	m.sections = make(map[string]*Section)
	m.parts = make(map[string]*Part)
	m.stats = Stats{}

	if len(m.Parts) == 0 {
		return fmt.Errorf("%w: test map %s has no parts", ErrInvalidTestMap, m.ID)
	}

	pos := 0
	for pi := range m.Parts {
		p := &m.Parts[pi]
		if p.ID == "" {
			return fmt.Errorf("%w: part %d has no identifier", ErrInvalidTestMap, pi)
		}
		if len(p.Sections) == 0 {
			return fmt.Errorf("%w: part %s has no sections", ErrInvalidTestMap, p.ID)
		}
		if _, dup := m.parts[p.ID]; dup {
			return fmt.Errorf("%w: duplicate part %s", ErrInvalidTestMap, p.ID)
		}
		m.parts[p.ID] = p
		m.stats.Parts++

		for si := range p.Sections {
			s := &p.Sections[si]
			if s.ID == "" {
				return fmt.Errorf("%w: section %d of part %s has no identifier", ErrInvalidTestMap, si, p.ID)
			}
			if len(s.Items) == 0 {
				return fmt.Errorf("%w: section %s has no items", ErrInvalidTestMap, s.ID)
			}
			if _, dup := m.sections[s.ID]; dup {
				return fmt.Errorf("%w: duplicate section %s", ErrInvalidTestMap, s.ID)
			}
			m.sections[s.ID] = s
			m.stats.Sections++

			for ii := range s.Items {
				it := &s.Items[ii]
				if it.ID == "" {
					return fmt.Errorf("%w: item %d of section %s has no identifier", ErrInvalidTestMap, ii, s.ID)
				}
				if _, dup := m.byItem[it.ID]; dup {
					return fmt.Errorf("%w: duplicate item %s", ErrInvalidTestMap, it.ID)
				}
				it.Position = pos
				m.byItem[it.ID] = pos
				m.locations = append(m.locations, Location{Part: p, Section: s, Item: it})
				m.stats.Items++
				pos++
			}
		}
	}

	return nil
}

// Len returns the number of positions in the map.
func (m *TestMap) Len() int { return len(m.locations) }

// Stats returns aggregate counts.
func (m *TestMap) Stats() Stats { return m.stats }

// Locate resolves a position.
func (m *TestMap) Locate(position int) (Location, bool) {
	if position < 0 || position >= len(m.locations) {
		return Location{}, false
	}
	return m.locations[position], true
}

// PositionOf returns the position of an item identifier.
func (m *TestMap) PositionOf(itemID string) (int, bool) {
	p, ok := m.byItem[itemID]
	return p, ok
}

// Section returns a section by identifier.
func (m *TestMap) Section(id string) (*Section, bool) {
	s, ok := m.sections[id]
	return s, ok
}

// Part returns a part by identifier.
func (m *TestMap) Part(id string) (*Part, bool) {
	p, ok := m.parts[id]
	return p, ok
}

// Walk visits every item in position order.
func (m *TestMap) Walk(fn func(Location) error) error {
	for _, loc := range m.locations {
		if err := fn(loc); err != nil {
			return err
		}
	}
	return nil
}

// TargetPosition resolves a branch target, seen from position, to the
// position where navigation should continue. Targets name an item, a section
// or a part, or are one of the exit keywords. A result equal to Len() means
// the end of the test.
func (m *TestMap) TargetPosition(target string, position int) (int, bool) {
	loc, ok := m.Locate(position)
	if !ok {
		return 0, false
	}

	switch target {
	case TargetExitSection:
		return loc.Section.Last() + 1, true
	case TargetExitTestPart:
		return loc.Part.Last() + 1, true
	case TargetExitTest:
		return m.Len(), true
	}

	if p, ok := m.byItem[target]; ok {
		return p, true
	}
	if s, ok := m.sections[target]; ok {
		return s.First(), true
	}
	if p, ok := m.parts[target]; ok {
		return p.First(), true
	}
	return 0, false
}
