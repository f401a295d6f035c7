package enums

import (
	"fmt"
	"strings"
)

// Direction names which schema a change event originated from.
type Direction string

const (
	DirectionUnknown Direction = ""
	DirectionAToB    Direction = "A_TO_B"
	DirectionBToA    Direction = "B_TO_A"
)

var validDirections = []Direction{
	DirectionAToB,
	DirectionBToA,
}

func (d Direction) String() string {
	return string(d)
}

// IsValid reports whether the direction is one of the two sync directions.
func (d Direction) IsValid() bool {
	for _, candidate := range validDirections {
		if candidate == d {
			return true
		}
	}
	return false
}

// Opposite returns the reverse direction, or DirectionUnknown.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionAToB:
		return DirectionBToA
	case DirectionBToA:
		return DirectionAToB
	default:
		return DirectionUnknown
	}
}

// Slug is the lowercase form used in topic names.
func (d Direction) Slug() string {
	return strings.ToLower(string(d))
}

// ParseDirection accepts "A_TO_B"/"B_TO_A" in any case, with '-' or '_'.
func ParseDirection(value string) (Direction, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(value), "-", "_"))
	for _, candidate := range validDirections {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return DirectionUnknown, fmt.Errorf("invalid direction %q", value)
}

// SourceNames maps the __source_name stamped on envelopes to a direction.
type SourceNames struct {
	A string
	B string
}

// Direction resolves a source name. Literal direction strings are accepted too.
func (s SourceNames) Direction(source string) Direction {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return DirectionUnknown
	}
	if s.A != "" && strings.EqualFold(trimmed, s.A) {
		return DirectionAToB
	}
	if s.B != "" && strings.EqualFold(trimmed, s.B) {
		return DirectionBToA
	}
	if d, err := ParseDirection(trimmed); err == nil {
		return d
	}
	return DirectionUnknown
}

// Name returns the source name configured for a direction.
func (s SourceNames) Name(d Direction) string {
	switch d {
	case DirectionAToB:
		return s.A
	case DirectionBToA:
		return s.B
	default:
		return ""
	}
}
