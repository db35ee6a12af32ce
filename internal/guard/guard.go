// Package guard decides whether a navigation leaving a time-boxed section
// needs the test-taker's confirmation.
package guard

import (
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

// Config holds guard settings.
type Config struct {
	// KeepUpToTimeout keeps the section timer running past the boundary, so
	// leaving early is not final and needs no confirmation.
	KeepUpToTimeout bool `yaml:"keep_up_to_timeout"`
}

// Request describes a pending move.
type Request struct {
	Context domain.TestContext
	Move    domain.Move

	// Section and Item are the current section and item.
	Section *domain.Section
	Item    *domain.Item

	// CandidateSectionID is the section the move lands in, empty when the
	// move ends the test.
	CandidateSectionID string
}

// Confirmation is the dialog contract surfaced to the caller of a blocked move.
type Confirmation struct {
	SectionID    string `json:"section_id"`
	SectionLabel string `json:"section_label,omitempty"`
	Message      string `json:"message"`
	AcceptLabel  string `json:"accept_label"`
	DeclineLabel string `json:"decline_label"`
}

// Decision is the guard's verdict. Reason explains a bypass.
type Decision struct {
	Blocked      bool
	Confirmation *Confirmation
	Reason       string
}

// Guard is the timed-section exit guard.
type Guard struct {
	cfg Config
}

// New creates a guard.
func New(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Check evaluates the request.
func (g *Guard) Check(req Request) Decision {
	if req.Section == nil || !req.Section.Timer.IsSectionMax() {
		return pass("no section timer")
	}
	if req.Context.IsTimeout {
		return pass("timer already timed out")
	}
	if req.Context.ItemSessionState == domain.ItemClosed {
		return pass("item session closed")
	}
	if req.Context.SectionID != req.Section.ID {
		return pass("timer belongs to another section")
	}
	if req.CandidateSectionID == req.Section.ID {
		return pass("move stays in section")
	}
	if req.Item != nil && (req.Item.HasCategory(domain.CategoryNoExitTimedSectionWarning) ||
		req.Item.HasCategory(domain.CategoryNoExitTimedSectionShort)) {
		return pass("warning disabled for item")
	}
	if g.cfg.KeepUpToTimeout {
		return pass("timer kept up to timeout")
	}
	if req.Context.IsLast && req.Context.EndWarningShown {
		return pass("end of test warning already shown")
	}

	label := req.Section.Label
	if label == "" {
		label = req.Section.ID
	}
	return Decision{
		Blocked: true,
		Confirmation: &Confirmation{
			SectionID:    req.Section.ID,
			SectionLabel: req.Section.Label,
			Message: fmt.Sprintf("After you complete the section %q you will not be able to return to it. "+
				"Do you want to leave it now?", label),
			AcceptLabel:  "Leave section",
			DeclineLabel: "Stay in section",
		},
	}
}

func pass(reason string) Decision {
	return Decision{Reason: reason}
}
