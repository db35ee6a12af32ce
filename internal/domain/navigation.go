package domain

import "fmt"

// Direction of a navigation request.
type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
	DirectionJump     Direction = "jump"
)

// Scope of a navigation request.
type Scope string

const (
	ScopeItem    Scope = "item"
	ScopeSection Scope = "section"
	ScopePart    Scope = "part"
)

// ParseDirection converts a string to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionNext, DirectionPrevious, DirectionJump:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrUnsupportedNavigation, s)
}

// ParseScope converts a string to a Scope.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(s); sc {
	case ScopeItem, ScopeSection, ScopePart:
		return sc, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrUnsupportedNavigation, s)
}

// Move identifies a navigation request by direction and scope.
type Move struct {
	Direction Direction `json:"direction"`
	Scope     Scope     `json:"scope"`
}

func (m Move) String() string {
	return string(m.Direction) + "/" + string(m.Scope)
}
