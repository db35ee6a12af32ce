// Package testmap loads test definitions from YAML or JSON files and builds
// indexed test maps from them.
package testmap

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
)

// TestFile represents the file structure of a test definition
type TestFile struct {
	ID    string     `yaml:"id"`
	Parts []PartFile `yaml:"parts"`
}

// PartFile represents a test part
type PartFile struct {
	ID          string        `yaml:"id"`
	Label       string        `yaml:"label"`
	Linear      bool          `yaml:"linear"`
	BranchRules []any         `yaml:"branch_rules"`
	Sections    []SectionFile `yaml:"sections"`
}

// SectionFile represents a section
type SectionFile struct {
	ID          string     `yaml:"id"`
	Label       string     `yaml:"label"`
	Adaptive    bool       `yaml:"adaptive"`
	Timer       *TimerFile `yaml:"timer"`
	BranchRules []any      `yaml:"branch_rules"`
	Items       []ItemFile `yaml:"items"`
}

// TimerFile is a time limit. Max is a Go duration string such as "20m".
// Scope and type default to a maximum on the section.
type TimerFile struct {
	Scope string `yaml:"scope"`
	Type  string `yaml:"type"`
	Max   string `yaml:"max"`
}

// ItemFile represents an item
type ItemFile struct {
	ID          string              `yaml:"id"`
	Categories  []string            `yaml:"categories"`
	MaxAttempts int                 `yaml:"max_attempts"`
	Correct     map[string][]string `yaml:"correct"`
	BranchRules []any               `yaml:"branch_rules"`
}

// LoadFile reads and indexes a test definition. JSON files are read with the
// YAML decoder.
func LoadFile(path string) (*domain.TestMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and indexes a test definition.
func Parse(data []byte) (*domain.TestMap, error) {
	var file TestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse test file: %w", domain.ErrInvalidTestMap, err)
	}
	return file.Build()
}

// Build converts the file structure into an indexed test map.
func (f TestFile) Build() (*domain.TestMap, error) {
	m := &domain.TestMap{ID: f.ID, Parts: make([]domain.Part, len(f.Parts))}

	for pi, pf := range f.Parts {
		prs, err := rules(pf.BranchRules, "part", pf.ID)
		if err != nil {
			return nil, err
		}
		part := domain.Part{
			ID:          pf.ID,
			Label:       pf.Label,
			Linear:      pf.Linear,
			BranchRules: prs,
			Sections:    make([]domain.Section, len(pf.Sections)),
		}

		for si, sf := range pf.Sections {
			sec, err := sf.build()
			if err != nil {
				return nil, err
			}
			part.Sections[si] = sec
		}
		m.Parts[pi] = part
	}

	if err := m.Index(); err != nil {
		return nil, err
	}
	return m, nil
}

func (sf SectionFile) build() (domain.Section, error) {
	rs, err := rules(sf.BranchRules, "section", sf.ID)
	if err != nil {
		return domain.Section{}, err
	}
	timer, err := sf.Timer.build(sf.ID)
	if err != nil {
		return domain.Section{}, err
	}

	sec := domain.Section{
		ID:          sf.ID,
		Label:       sf.Label,
		Adaptive:    sf.Adaptive,
		Timer:       timer,
		BranchRules: rs,
		Items:       make([]domain.Item, len(sf.Items)),
	}
	for ii, itf := range sf.Items {
		irs, err := rules(itf.BranchRules, "item", itf.ID)
		if err != nil {
			return domain.Section{}, err
		}
		sec.Items[ii] = domain.Item{
			ID:          itf.ID,
			Categories:  itf.Categories,
			MaxAttempts: itf.MaxAttempts,
			Correct:     itf.Correct,
			BranchRules: irs,
		}
	}
	return sec, nil
}

func (tf *TimerFile) build(sectionID string) (*domain.Timer, error) {
	if tf == nil {
		return nil, nil
	}
	limit, err := time.ParseDuration(tf.Max)
	if err != nil || limit <= 0 {
		return nil, fmt.Errorf("%w: section %s: invalid timer max %q", domain.ErrInvalidTestMap, sectionID, tf.Max)
	}

	t := &domain.Timer{
		Scope: domain.TimerScope(tf.Scope),
		Type:  domain.TimerType(tf.Type),
		Max:   limit,
	}
	if t.Scope == "" {
		t.Scope = domain.TimerScopeSection
	}
	if t.Type == "" {
		t.Type = domain.TimerTypeMax
	}
	return t, nil
}

func rules(defs []any, kind, id string) ([]branch.Rule, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	rs, err := branch.FromList(defs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrInvalidTestMap, kind, id, err)
	}
	return rs, nil
}
