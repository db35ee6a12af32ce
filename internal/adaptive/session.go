// Package adaptive maintains the shadow test of computerized adaptive
// sections: the sequence of items chosen one at a time by an adaptive
// algorithm while the test-taker progresses.
package adaptive

import (
	"maps"
	"slices"
)

// Session is the CAT session of one adaptive section. Items is the shadow
// test; it only grows. Cursor is the index of the item currently presented,
// -1 before the first selection.
type Session struct {
	SectionID string   `json:"section_id"`
	Items     []string `json:"items"`
	Cursor    int      `json:"cursor"`
}

// Current returns the item under the cursor.
func (s Session) Current() (string, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.Items) {
		return "", false
	}
	return s.Items[s.Cursor], true
}

// IndexOf returns the shadow-test index of itemID, or -1.
func (s Session) IndexOf(itemID string) int {
	return slices.Index(s.Items, itemID)
}

// AtFirst reports whether the cursor is on the first shadow-test entry.
func (s Session) AtFirst() bool {
	return s.Cursor <= 0
}

// HasAhead reports whether entries exist after the cursor, which happens
// after backward navigation.
func (s Session) HasAhead() bool {
	return s.Cursor+1 < len(s.Items)
}

func (s Session) appended(itemID string) Session {
	items := make([]string, len(s.Items), len(s.Items)+1)
	copy(items, s.Items)
	s.Items = append(items, itemID)
	s.Cursor = len(s.Items) - 1
	return s
}

// Sessions holds the CAT sessions of an execution by section identifier.
// It is copied on write.
type Sessions map[string]Session

// Get returns the session of a section.
func (ss Sessions) Get(sectionID string) (Session, bool) {
	s, ok := ss[sectionID]
	return s, ok
}

// With returns a copy holding s.
func (ss Sessions) With(s Session) Sessions {
	out := maps.Clone(ss)
	if out == nil {
		out = make(Sessions, 1)
	}
	out[s.SectionID] = s
	return out
}
