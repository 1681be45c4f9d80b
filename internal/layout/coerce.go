package layout

import (
	"strconv"
	"strings"

	"github.com/vuckos/T-display-web-editor/internal/convert"
)

// Coercion helpers for the loosely-typed fields in device documents and
// telemetry frames. Every helper maps nil and unparseable input to the
// zero value; none of them can fail.

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			// Fall back to float syntax ("12.0") before giving up.
			f, ferr := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return n
	default:
		return 0
	}
}

// asBool treats the literal text "true" as true; every other string,
// including "TRUE" style variants, follows strconv rules and coerces to
// false on failure. Numbers are truthy when non-zero.
func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false
		}
		return b
	case float64:
		return t != 0
	default:
		return false
	}
}

// asPacked reads a 16-bit packed color that may be a number (telemetry
// wire form) or hex text (document form).
func asPacked(v any) uint16 {
	switch t := v.(type) {
	case float64:
		if t < 0 || t > 0xFFFF {
			return 0
		}
		return uint16(t)
	case string:
		return convert.ParsePacked(t)
	default:
		return 0
	}
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
