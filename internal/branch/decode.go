package branch

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidRule is returned when a rule definition cannot be decoded.
var ErrInvalidRule = errors.New("invalid branch rule")

const attributesKey = "@attributes"

// FromMap decodes a rule definition as produced by the JSON or YAML encoding
// of a branch rule:
//
//	{"@attributes": {"target": "S2"},
//	 "and": [{"match": {"variable": "RESPONSE_1", "value": "choice_1"}},
//	         {"not": {"match": {"variable": "RESPONSE_2", "value": "choice_2"}}}]}
//
// Every key other than @attributes is a top-level condition.
func FromMap(def map[string]any) (Rule, error) {
	var rule Rule

	if raw, ok := def[attributesKey]; ok {
		attrs, ok := raw.(map[string]any)
		if !ok {
			return Rule{}, fmt.Errorf("%w: @attributes must be a mapping", ErrInvalidRule)
		}
		if target, ok := attrs["target"]; ok {
			s, ok := target.(string)
			if !ok {
				return Rule{}, fmt.Errorf("%w: target must be a string", ErrInvalidRule)
			}
			rule.Target = s
		}
	}

	for _, key := range sortedKeys(def) {
		if key == attributesKey {
			continue
		}
		expr, err := parseExpr(key, def[key])
		if err != nil {
			return Rule{}, err
		}
		rule.Conditions = append(rule.Conditions, expr)
	}

	return rule, nil
}

// FromList decodes a list of rule definitions, preserving declaration order.
func FromList(defs []any) ([]Rule, error) {
	rules := make([]Rule, 0, len(defs))
	for i, d := range defs {
		m, ok := d.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: rule %d is not a mapping", ErrInvalidRule, i)
		}
		r, err := FromMap(m)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseExpr(kind string, v any) (Expr, error) {
	switch kind {
	case "match":
		return parseMatch(v)
	case "and":
		children, err := parseChildren(v)
		if err != nil {
			return nil, fmt.Errorf("and: %w", err)
		}
		return And(children), nil
	case "or":
		children, err := parseChildren(v)
		if err != nil {
			return nil, fmt.Errorf("or: %w", err)
		}
		return Or(children), nil
	case "not":
		children, err := parseChildren(v)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return Not{Exprs: children}, nil
	default:
		return nil, fmt.Errorf("%w: unknown expression %q", ErrInvalidRule, kind)
	}
}

// parseChildren accepts a single node or a list of nodes. A node with more
// than one expression key is read as the conjunction of those expressions.
func parseChildren(v any) ([]Expr, error) {
	switch t := v.(type) {
	case map[string]any:
		e, err := parseNode(t)
		if err != nil {
			return nil, err
		}
		return []Expr{e}, nil
	case []any:
		out := make([]Expr, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: expression must be a mapping", ErrInvalidRule)
			}
			e, err := parseNode(m)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected mapping or list, got %T", ErrInvalidRule, v)
	}
}

func parseNode(m map[string]any) (Expr, error) {
	keys := sortedKeys(m)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidRule)
	}
	if len(keys) == 1 {
		return parseExpr(keys[0], m[keys[0]])
	}
	var all And
	for _, k := range keys {
		e, err := parseExpr(k, m[k])
		if err != nil {
			return nil, err
		}
		all = append(all, e)
	}
	return all, nil
}

func parseMatch(v any) (Expr, error) {
	if list, ok := v.([]any); ok {
		var all And
		for _, item := range list {
			e, err := parseMatch(item)
			if err != nil {
				return nil, err
			}
			all = append(all, e)
		}
		return all, nil
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: match must be a mapping", ErrInvalidRule)
	}

	variable, _ := m["variable"].(string)
	if variable == "" {
		return nil, fmt.Errorf("%w: match requires a variable", ErrInvalidRule)
	}

	match := Match{Variable: variable}
	if c, ok := m["correct"].(bool); ok {
		match.Correct = c
	}

	switch val := m["value"].(type) {
	case nil:
		if !match.Correct {
			return nil, fmt.Errorf("%w: match on %s needs a value or correct: true", ErrInvalidRule, variable)
		}
	case string:
		match.Values = []string{val}
	case []any:
		for _, x := range val {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("%w: match values must be strings", ErrInvalidRule)
			}
			match.Values = append(match.Values, s)
		}
	default:
		match.Values = []string{fmt.Sprint(val)}
	}

	return match, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
