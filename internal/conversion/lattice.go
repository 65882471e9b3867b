// Package conversion classifies raw CSV cells into a ranked set of types,
// folds those classifications into per-column schema nodes, and converts
// cells against a node when records are emitted.
package conversion

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TypeTag is the classification of a single raw value. Tags are totally
// ordered; a higher tag is more general.
type TypeTag int

const (
	TypeNull TypeTag = iota
	TypeInteger
	TypeNumber
	TypeDateTime
	TypeString
)

var tagNames = [...]string{
	TypeNull:     "null",
	TypeInteger:  "integer",
	TypeNumber:   "number",
	TypeDateTime: "date-time",
	TypeString:   "string",
}

func (t TypeTag) String() string {
	if t < TypeNull || t > TypeString {
		return "unknown"
	}
	return tagNames[t]
}

// Tags lists every tag in rank order.
func Tags() []TypeTag {
	return []TypeTag{TypeNull, TypeInteger, TypeNumber, TypeDateTime, TypeString}
}

var (
	integerPattern = regexp.MustCompile(`^[+-]?[0-9]+$`)
	numberPattern  = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// Layouts accepted as date-time, tried in order. Values without a zone are UTC.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Classify returns the narrowest tag the raw value parses as.
func Classify(raw *string) TypeTag {
	if raw == nil {
		return TypeNull
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return TypeNull
	}
	if _, ok := parseInteger(s); ok {
		return TypeInteger
	}
	if _, ok := parseNumber(s); ok {
		return TypeNumber
	}
	if _, ok := ParseDateTime(s); ok {
		return TypeDateTime
	}
	return TypeString
}

// Widen returns the more general of two tags.
func Widen(a, b TypeTag) TypeTag {
	if a > b {
		return a
	}
	return b
}

func parseInteger(s string) (int64, bool) {
	if !integerPattern.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNumber only accepts plain decimal notation, so NaN, Inf and hex
// floats are strings: none of them survive a JSON round trip.
func parseNumber(s string) (float64, bool) {
	if !numberPattern.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseDateTime parses an ISO-8601-like timestamp or date.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len("2006-01-02") {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDateTime renders a parsed timestamp the way records carry it.
func FormatDateTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
