package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is a parsed alert rule expression "field op value".
type Condition struct {
	Field string
	Op    string
	// Value is the right-hand side. Number is set when it parses as a float.
	Value    string
	Number   float64
	IsNumber bool
}

// ParseCondition splits and validates an alert expression.
func ParseCondition(s string) (Condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("condition %q: want \"field op value\"", s)
	}
	c := Condition{Field: parts[0], Op: parts[1], Value: parts[2]}
	switch c.Op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return Condition{}, fmt.Errorf("condition %q: unknown operator %q", s, c.Op)
	}
	if v, err := strconv.ParseFloat(c.Value, 64); err == nil {
		c.Number, c.IsNumber = v, true
	} else if c.Op != "==" && c.Op != "!=" {
		return Condition{}, fmt.Errorf("condition %q: %s needs a numeric value", s, c.Op)
	}
	return c, nil
}
