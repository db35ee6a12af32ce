package adaptive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

var (
	ErrUnknownItem         = errors.New("selected item is not in the section pool")
	ErrNotInShadowTest     = errors.New("item is not part of the shadow test")
	ErrSectionNotAdaptive  = errors.New("section is not adaptive")
	ErrAlgorithmNotDefined = errors.New("no adaptive algorithm configured")
	ErrAlreadyAdministered = errors.New("item already administered")
)

// Input is what the adaptive algorithm sees of a session.
type Input struct {
	ExecutionID  string
	SectionID    string
	Pool         []string
	Administered []string
}

// Algorithm chooses the next item of an adaptive section. An empty item
// identifier means the section is exhausted.
type Algorithm interface {
	SelectNext(ctx context.Context, in Input) (string, error)
}

// AlgorithmFunc adapts a function to Algorithm.
type AlgorithmFunc func(ctx context.Context, in Input) (string, error)

// SelectNext implements Algorithm.
func (f AlgorithmFunc) SelectNext(ctx context.Context, in Input) (string, error) {
	return f(ctx, in)
}

// Selector owns the shadow tests of adaptive sections. It never mutates a
// Session in place; callers keep the returned copies.
type Selector struct {
	algorithm Algorithm
}

// NewSelector creates a selector backed by algorithm.
func NewSelector(algorithm Algorithm) *Selector {
	return &Selector{algorithm: algorithm}
}

// InitSession creates an empty shadow test for a section.
func (s *Selector) InitSession(sectionID string) Session {
	return Session{SectionID: sectionID, Cursor: -1}
}

// SelectNext moves the session forward. When the cursor is behind the end of
// the shadow test the existing next entry is reused; otherwise the algorithm
// is asked and its choice appended. An empty identifier means the section is
// exhausted and the session is returned unchanged.
func (s *Selector) SelectNext(ctx context.Context, executionID string, sess Session, section *domain.Section) (Session, string, error) {
	if !section.Adaptive {
		return sess, "", fmt.Errorf("%w: %s", ErrSectionNotAdaptive, section.ID)
	}

	if sess.HasAhead() {
		sess.Cursor++
		return sess, sess.Items[sess.Cursor], nil
	}

	if s.algorithm == nil {
		return sess, "", ErrAlgorithmNotDefined
	}

	pool := section.ItemIDs()
	itemID, err := s.algorithm.SelectNext(ctx, Input{
		ExecutionID:  executionID,
		SectionID:    section.ID,
		Pool:         pool,
		Administered: slices.Clone(sess.Items),
	})
	if err != nil {
		return sess, "", fmt.Errorf("select adaptive item: %w", err)
	}
	if itemID == "" {
		slog.Debug("adaptive section exhausted",
			"execution_id", executionID,
			"section_id", section.ID,
			"administered", len(sess.Items))
		return sess, "", nil
	}
	if !slices.Contains(pool, itemID) {
		return sess, "", fmt.Errorf("%w: %s in %s", ErrUnknownItem, itemID, section.ID)
	}
	if slices.Contains(sess.Items, itemID) {
		return sess, "", fmt.Errorf("%w: %s", ErrAlreadyAdministered, itemID)
	}

	return sess.appended(itemID), itemID, nil
}

// PersistCursor records itemID as the current shadow-test entry without
// appending.
func (s *Selector) PersistCursor(sess Session, itemID string) (Session, error) {
	idx := sess.IndexOf(itemID)
	if idx < 0 {
		return sess, fmt.Errorf("%w: %s", ErrNotInShadowTest, itemID)
	}
	sess.Cursor = idx
	return sess, nil
}
