package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// parseValueAsFloat64 converts numeric types and numeric strings to float64.
// Booleans, blank strings and other types are not numbers.
func parseValueAsFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// isBlank reports whether a value counts as empty for presence checks.
func isBlank(value interface{}) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// stringify renders a value for pattern and length checks.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// runeLen counts characters rather than bytes.
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// compareValues compares a row value with a configured value. Numbers compare
// numerically even when one side is numeric text; booleans compare as
// booleans; everything else compares as strings. Returns -1, 0 or 1.
func compareValues(a, b interface{}) (int, error) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, nil
		}
		return 0, fmt.Errorf("cannot compare %v with %v", a, b)
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			parsed, err := strconv.ParseBool(strings.TrimSpace(stringify(b)))
			if err != nil {
				return 0, fmt.Errorf("cannot compare bool with %T", b)
			}
			bb = parsed
		}
		switch {
		case ab == bb:
			return 0, nil
		case !ab:
			return -1, nil
		default:
			return 1, nil
		}
	}
	af, aNum := parseValueAsFloat64(a)
	bf, bNum := parseValueAsFloat64(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return strings.Compare(stringify(a), stringify(b)), nil
}
