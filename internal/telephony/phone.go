package telephony

import (
	"strings"
	"unicode"
)

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone accepts numbers with 10 to 15 digits once formatting is removed:
// plain North American numbers, with or without the leading 1, and
// international numbers.
func ValidPhone(s string) bool {
	n := len(Digits(s))
	return n >= 10 && n <= 15
}

// NormalizePhone returns the E.164 form of a valid number.
func NormalizePhone(s string) string {
	d := Digits(s)
	switch {
	case len(d) == 10:
		return "+1" + d
	default:
		return "+" + d
	}
}

// cleanNumber drops the separators callers commonly type, for use in room names.
func cleanNumber(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '+' || r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}
