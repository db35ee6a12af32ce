// Package branch evaluates branch rules: conditional jumps attached to test
// parts, sections and items that override linear progression when the
// test-taker's responses satisfy a boolean expression.
package branch

import "slices"

// ResponseStore exposes the recorded and correct responses of a delivery
// execution. Values are the scalar or identifier representation of each
// response; multi-cardinality responses carry several values.
type ResponseStore interface {
	Response(variable string) ([]string, bool)
	CorrectResponse(variable string) ([]string, bool)
}

// Expr is a node of a branch rule expression tree. Evaluation only reads the
// store and never mutates it.
type Expr interface {
	Eval(store ResponseStore) bool
}

// Match holds when the recorded response for Variable belongs to the expected
// set. The expected set is Values, or the variable's correct response when
// Correct is set.
type Match struct {
	Variable string
	Values   []string
	Correct  bool
}

// Eval implements Expr. A single-valued response is tested for membership;
// a multi-valued response must equal the expected set.
func (m Match) Eval(store ResponseStore) bool {
	got, ok := store.Response(m.Variable)
	if !ok || len(got) == 0 {
		return false
	}

	expected := m.Values
	if m.Correct {
		expected, ok = store.CorrectResponse(m.Variable)
		if !ok {
			return false
		}
	}

	if len(got) == 1 {
		return slices.Contains(expected, got[0])
	}
	return sameSet(got, expected)
}

// And holds when every child holds. Every child is evaluated.
type And []Expr

// Eval implements Expr.
func (a And) Eval(store ResponseStore) bool {
	result := true
	for _, e := range a {
		if !e.Eval(store) {
			result = false
		}
	}
	return result
}

// Or holds when at least one child holds.
type Or []Expr

// Eval implements Expr.
func (o Or) Eval(store ResponseStore) bool {
	result := false
	for _, e := range o {
		if e.Eval(store) {
			result = true
		}
	}
	return result
}

// Not negates its operands. With several operands each one is negated
// independently and the results are combined as a conjunction: Not holds
// only when none of the operands holds.
type Not struct {
	Exprs []Expr
}

// Negate builds a Not over the given operands.
func Negate(exprs ...Expr) Not {
	return Not{Exprs: exprs}
}

// Eval implements Expr.
func (n Not) Eval(store ResponseStore) bool {
	if len(n.Exprs) == 0 {
		return false
	}
	for _, e := range n.Exprs {
		if e.Eval(store) {
			return false
		}
	}
	return true
}

// Rule is a branch rule attached to a part, section or item. Conditions are
// the top-level expressions of the rule definition; all of them must hold
// for the rule to fire.
type Rule struct {
	Target     string `json:"target,omitempty"`
	Conditions []Expr `json:"-"`
}

// Inert reports whether the rule has no target and can never fire.
func (r Rule) Inert() bool {
	return r.Target == ""
}

// Fires reports whether every condition holds. A rule without conditions
// never fires.
func (r Rule) Fires(store ResponseStore) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	return And(r.Conditions).Eval(store)
}

// Resolve returns the rule's target when the rule is not inert and fires.
func (r Rule) Resolve(store ResponseStore) (string, bool) {
	if r.Inert() {
		return "", false
	}
	if !r.Fires(store) {
		return "", false
	}
	return r.Target, true
}

// Resolve evaluates rules in declaration order and returns the target of the
// first one that fires.
func Resolve(rules []Rule, store ResponseStore) (string, bool) {
	for _, r := range rules {
		if target, ok := r.Resolve(store); ok {
			return target, true
		}
	}
	return "", false
}

func sameSet(a, b []string) bool {
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
	}
	for _, v := range seen {
		if v != 0 {
			return false
		}
	}
	return true
}
