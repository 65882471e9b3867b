package conversion

import "strings"

// Convert casts a raw cell to the narrowest type the node declares that
// parses. A cell that does not parse comes back as the raw string with
// fellBack set; conversion never fails.
func Convert(n Node, raw *string) (value any, fellBack bool) {
	if raw == nil {
		return nil, false
	}
	s := strings.TrimSpace(*raw)

	switch n.Tag {
	case TypeInteger:
		if s == "" {
			return nil, false
		}
		if v, ok := parseInteger(s); ok {
			return v, false
		}
	case TypeNumber:
		if s == "" {
			return nil, false
		}
		if v, ok := parseNumber(s); ok {
			return v, false
		}
	case TypeDateTime:
		if s == "" {
			return nil, false
		}
		if t, ok := ParseDateTime(s); ok {
			return FormatDateTime(t), false
		}
	default:
		return *raw, false
	}
	return *raw, true
}
