package testmap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
)

const sampleYAML = `id: math-101
parts:
  - id: P1
    linear: true
    sections:
      - id: S1
        label: Warm-up
        items:
          - id: Q1
            correct:
              RESPONSE: [choice_a]
            branch_rules:
              - "@attributes": {target: Q3}
                match: {variable: RESPONSE, correct: true}
          - id: Q2
            max_attempts: 2
          - id: Q3
  - id: P2
    sections:
      - id: S2
        timer: {max: 20m}
        items:
          - id: Q4
            categories: [noExitTimedSectionWarning]
      - id: S3
        adaptive: true
        items:
          - id: Q5
          - id: Q6
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if m.ID != "math-101" {
		t.Errorf("ID = %q, want %q", m.ID, "math-101")
	}
	if got := m.Stats(); got != (domain.Stats{Parts: 2, Sections: 3, Items: 6}) {
		t.Errorf("Stats() = %+v", got)
	}
	if pos, _ := m.PositionOf("Q5"); pos != 4 {
		t.Errorf("PositionOf(Q5) = %d, want 4", pos)
	}

	s2, _ := m.Section("S2")
	if !s2.Timer.IsSectionMax() || s2.Timer.Max != 20*time.Minute {
		t.Errorf("S2 timer = %+v", s2.Timer)
	}
	s3, _ := m.Section("S3")
	if !s3.Adaptive {
		t.Error("S3 should be adaptive")
	}

	loc, _ := m.Locate(0)
	if len(loc.Item.BranchRules) != 1 || loc.Item.BranchRules[0].Target != "Q3" {
		t.Fatalf("Q1 branch rules = %+v", loc.Item.BranchRules)
	}
	r := branch.NewResponses()
	r.SetCorrect("RESPONSE", "choice_a")
	r.Set("RESPONSE", "choice_a")
	if target, ok := branch.Resolve(loc.Item.BranchRules, r); !ok || target != "Q3" {
		t.Errorf("Resolve() = %q, %v; want Q3", target, ok)
	}

	loc, _ = m.Locate(1)
	if loc.Item.MaxAttempts != 2 {
		t.Errorf("Q2 max attempts = %d, want 2", loc.Item.MaxAttempts)
	}
	loc, _ = m.Locate(3)
	if !loc.Item.HasCategory(domain.CategoryNoExitTimedSectionShort) {
		t.Errorf("Q4 categories = %v", loc.Item.Categories)
	}
}

func TestParse_JSON(t *testing.T) {
	data := `{"id": "j", "parts": [{"id": "P", "sections": [{"id": "S", "items": [{"id": "I1"}, {"id": "I2"}]}]}]}`
	m, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", "id: [unterminated"},
		{"no parts", "id: empty\n"},
		{"empty section", "parts:\n  - id: P\n    sections:\n      - id: S\n"},
		{"duplicate item", "parts:\n  - id: P\n    sections:\n      - id: S\n        items: [{id: A}, {id: A}]\n"},
		{"bad timer", "parts:\n  - id: P\n    sections:\n      - id: S\n        timer: {max: soon}\n        items: [{id: A}]\n"},
		{"bad rule", "parts:\n  - id: P\n    sections:\n      - id: S\n        items:\n          - id: A\n            branch_rules: [{bogus: {}}]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); !errors.Is(err, domain.ErrInvalidTestMap) {
				t.Errorf("Parse() error = %v, want ErrInvalidTestMap", err)
			}
		})
	}
}

func TestDirProvider(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "math-101.yaml"), []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	unnamed := `{"parts": [{"id": "P", "sections": [{"id": "S", "items": [{"id": "I"}]}]}]}`
	if err := os.WriteFile(filepath.Join(dir, "quiz.json"), []byte(unnamed), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("failed to write notes: %v", err)
	}

	p := NewDirProvider(dir)
	ctx := context.Background()

	ids, err := p.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "math-101" || ids[1] != "quiz" {
		t.Errorf("List() = %v", ids)
	}

	first, err := p.Get(ctx, "math-101")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, _ := p.Get(ctx, "math-101")
	if first != second {
		t.Error("Get() should return the cached map")
	}

	quiz, err := p.Get(ctx, "quiz")
	if err != nil {
		t.Fatalf("Get(quiz) error = %v", err)
	}
	if quiz.ID != "quiz" {
		t.Errorf("ID = %q, want the file name", quiz.ID)
	}

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, domain.ErrTestMapNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrTestMapNotFound", err)
	}
	if _, err := p.Get(ctx, "../etc/passwd"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Get(traversal) error = %v, want ErrInvalidInput", err)
	}

	p.Invalidate("math-101")
	third, _ := p.Get(ctx, "math-101")
	if third == first {
		t.Error("Invalidate() should drop the cached map")
	}
}

func TestDirProvider_MissingDir(t *testing.T) {
	p := NewDirProvider(filepath.Join(t.TempDir(), "absent"))
	ids, err := p.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("List() = %v, want empty", ids)
	}
}
