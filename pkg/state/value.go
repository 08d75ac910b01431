package state

import (
	"fmt"
	"strings"
)

// normalizeInt converts any integer-shaped value to int64. Profile
// YAML yields int, CBOR yields uint64 or int64, and JSON yields
// float64; all of them must compare equal once inside the model.
func normalizeInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// ValuesEqual compares two normalized field values.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ai, ok := normalizeInt(a); ok {
		bi, ok := normalizeInt(b)
		return ok && ai == bi
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

// ParseColor parses a "#RRGGBB" lighting color value.
func ParseColor(s string) (r, g, b uint8, err error) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0, fmt.Errorf("color %q: want #RRGGBB", s)
	}
	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		hi, ok1 := hexNibble(s[1+2*i])
		lo, ok2 := hexNibble(s[2+2*i])
		if !ok1 || !ok2 {
			return 0, 0, 0, fmt.Errorf("color %q: bad hex digit", s)
		}
		rgb[i] = hi<<4 | lo
	}
	return rgb[0], rgb[1], rgb[2], nil
}

// FormatColor renders RGB components as "#RRGGBB".
func FormatColor(r, g, b uint8) string {
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

func hexNibble(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// normalizeColor upper-cases a color string so equal colors compare
// equal regardless of input casing.
func normalizeColor(s string) (string, error) {
	r, g, b, err := ParseColor(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return FormatColor(r, g, b), nil
}
