package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Constraint defines a validation rule for a field.
type Constraint struct {
	// Type is the constraint type (min, max, min_length, max_length, pattern, etc.)
	Type ConstraintType `yaml:"type" json:"type"`

	// Value is the constraint parameter (number, regex pattern, etc.)
	Value any `yaml:"value,omitempty" json:"value,omitempty"`

	// Message is the custom error message (optional).
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// ConstraintType identifies the type of constraint.
type ConstraintType string

const (
	ConstraintMin       ConstraintType = "min"
	ConstraintMax       ConstraintType = "max"
	ConstraintMinLength ConstraintType = "min_length"
	ConstraintMaxLength ConstraintType = "max_length"
	ConstraintPattern   ConstraintType = "pattern"
	ConstraintNotEmpty  ConstraintType = "not_empty"
	ConstraintOneOf     ConstraintType = "one_of"
)

// ConstraintError represents a validation failure.
type ConstraintError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CheckConstraint validates a value against a single constraint. Values of a
// kind the constraint does not apply to pass. This is a PURE function.
func CheckConstraint(field string, value any, c Constraint) *ConstraintError {
	fail := func(def string, args ...any) *ConstraintError {
		msg := c.Message
		if msg == "" {
			msg = fmt.Sprintf(def, args...)
		}
		return &ConstraintError{Field: field, Constraint: string(c.Type), Message: msg}
	}

	switch c.Type {
	case ConstraintMin, ConstraintMax:
		bound, err := toFloat64(c.Value)
		if err != nil {
			return nil
		}
		val, err := toFloat64(value)
		if err != nil {
			return nil
		}
		if c.Type == ConstraintMin && val < bound {
			return fail("must be at least %v", bound)
		}
		if c.Type == ConstraintMax && val > bound {
			return fail("must be at most %v", bound)
		}

	case ConstraintMinLength, ConstraintMaxLength:
		n, err := toInt(c.Value)
		if err != nil {
			return nil
		}
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if c.Type == ConstraintMinLength && len(str) < n {
			return fail("must be at least %d characters", n)
		}
		if c.Type == ConstraintMaxLength && len(str) > n {
			return fail("must be at most %d characters", n)
		}

	case ConstraintPattern:
		pattern, ok := c.Value.(string)
		str, isStr := value.(string)
		if !ok || !isStr {
			return nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil
		}
		if !re.MatchString(str) {
			return fail("does not match required pattern")
		}

	case ConstraintNotEmpty:
		if str, ok := value.(string); ok && strings.TrimSpace(str) == "" {
			return fail("must not be empty")
		}

	case ConstraintOneOf:
		allowed, ok := c.Value.([]any)
		if !ok {
			return nil
		}
		got := fmt.Sprint(value)
		options := make([]string, 0, len(allowed))
		for _, a := range allowed {
			if fmt.Sprint(a) == got {
				return nil
			}
			options = append(options, fmt.Sprint(a))
		}
		return fail("must be one of: %s", strings.Join(options, ", "))
	}

	return nil
}

// checkConstraintConfig returns a reason string for a malformed constraint, or "".
func checkConstraintConfig(c Constraint) string {
	switch c.Type {
	case ConstraintMin, ConstraintMax:
		if _, err := toFloat64(c.Value); err != nil {
			return fmt.Sprintf("constraint %s requires a numeric value", c.Type)
		}
	case ConstraintMinLength, ConstraintMaxLength:
		if _, err := toInt(c.Value); err != nil {
			return fmt.Sprintf("constraint %s requires an integer value", c.Type)
		}
	case ConstraintPattern:
		p, ok := c.Value.(string)
		if !ok {
			return "constraint pattern requires a string value"
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Sprintf("constraint pattern: %v", err)
		}
	case ConstraintOneOf:
		if _, ok := c.Value.([]any); !ok {
			return "constraint one_of requires a list value"
		}
	case ConstraintNotEmpty:
	default:
		return fmt.Sprintf("unknown constraint %q", c.Type)
	}
	return ""
}

// toFloat64 converts various numeric types to float64.
func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

// toInt converts various types to int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}
