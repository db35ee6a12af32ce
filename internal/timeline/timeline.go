// Package timeline accounts for the time a test-taker spends in each section.
package timeline

import (
	"maps"
	"time"
)

// Timeline accumulates per-section durations. At most one section is running
// at a time. Timeline is a value: every method returns an updated copy and
// leaves the receiver untouched.
type Timeline struct {
	Sections map[string]time.Duration `json:"sections,omitempty"`
	Running  string                   `json:"running,omitempty"`
	Since    time.Time                `json:"since,omitzero"`
}

// Start stops the running section, if any, and starts section at now.
// Starting the section that is already running is a no-op.
func (t Timeline) Start(section string, now time.Time) Timeline {
	if t.Running == section {
		return t
	}
	t = t.Stop(now)
	t.Running = section
	t.Since = now
	return t
}

// Stop accumulates the running section's duration and leaves nothing running.
func (t Timeline) Stop(now time.Time) Timeline {
	if t.Running == "" {
		return t
	}
	sections := maps.Clone(t.Sections)
	if sections == nil {
		sections = make(map[string]time.Duration)
	}
	if d := now.Sub(t.Since); d > 0 {
		sections[t.Running] += d
	}
	return Timeline{Sections: sections}
}

// Elapsed returns the total time spent in section up to now.
func (t Timeline) Elapsed(section string, now time.Time) time.Duration {
	d := t.Sections[section]
	if t.Running == section {
		if run := now.Sub(t.Since); run > 0 {
			d += run
		}
	}
	return d
}

// Expired reports whether section has used up max. A zero max never expires.
func (t Timeline) Expired(section string, max time.Duration, now time.Time) bool {
	return max > 0 && t.Elapsed(section, now) >= max
}
