package tools

import (
	"regexp"
	"strings"
	"time"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// ValidEmail reports whether s looks like a deliverable address.
func ValidEmail(s string) bool { return emailPattern.MatchString(s) }

var spokenDigits = map[string]string{
	"zero": "0", "oh": "0",
	"one": "1", "two": "2", "three": "3",
	"four": "4", "for": "4", "five": "5", "six": "6",
	"seven": "7", "eight": "8", "ate": "8", "nine": "9",
}

// NormalizeSpokenNumbers turns spoken digits into numerals:
// "one two three" -> "1 2 3", "triple nine" -> "999".
func NormalizeSpokenNumbers(text string) string {
	tokens := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if (tok == "double" || tok == "triple") && i+1 < len(tokens) {
			repeat := 2
			if tok == "triple" {
				repeat = 3
			}
			next := tokens[i+1]
			digit, ok := spokenDigits[next]
			if !ok && isDigits(next) {
				digit, ok = next, true
			}
			if ok && digit != "" {
				out = append(out, strings.Repeat(digit, repeat))
				i++
				continue
			}
		}
		if d, ok := spokenDigits[tok]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

var spokenDomains = strings.NewReplacer(
	"gmailcom", "gmail.com",
	"yahoocom", "yahoo.com",
	"outlookcom", "outlook.com",
	"protonmailcom", "protonmail.com",
)

// NormalizeSpokenEmail converts "john dot doe at gmail dot com" into
// "john.doe@gmail.com".
func NormalizeSpokenEmail(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, " at ", " @ ")
	s = strings.ReplaceAll(s, " at@", " @")
	s = strings.ReplaceAll(s, " dot ", ".")
	s = strings.ReplaceAll(s, " underscore ", "_")
	s = strings.ReplaceAll(s, " dash ", "-")
	s = NormalizeSpokenNumbers(s)
	s = strings.ReplaceAll(s, " ", "")
	s = spokenDomains.Replace(s)

	// keep a single '@'
	if parts := strings.Split(s, "@"); len(parts) > 2 {
		s = parts[0] + "@" + strings.Join(parts[1:], "")
	}
	return s
}

// NormalizeSpokenTime makes time phrases parseable: "three thirty pm" -> "3:30 pm".
func NormalizeSpokenTime(phrase string) string {
	p := NormalizeSpokenNumbers(strings.TrimSpace(phrase))
	p = strings.ReplaceAll(p, "thirty", "30")
	tokens := strings.Fields(p)
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if i+1 < len(tokens) && isDigits(tokens[i]) && isDigits(tokens[i+1]) && len(tokens[i]) <= 2 && len(tokens[i+1]) <= 2 {
			m := tokens[i+1]
			if len(m) == 1 {
				m = "0" + m
			}
			out = append(out, tokens[i]+":"+m)
			i++
			continue
		}
		out = append(out, tokens[i])
	}
	return strings.Join(out, " ")
}

// Layouts accepted for appointment times, most specific first. Values without
// an offset are taken as UTC.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04 pm",
	"2006-01-02 3 pm",
	"January 2 2006 3:04 pm",
	"January 2 2006 3 pm",
	"Jan 2 2006 3:04 pm",
	"Jan 2 2006 3 pm",
	"2006-01-02",
}

// ParseAppointmentTime parses an ISO-8601 / RFC 3339 time, or a simple
// "<date> <time>" phrase, and returns it in UTC.
func ParseAppointmentTime(text string) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}
	// "2006-01-02T..." is parsed as-is
	if len(s) <= 10 || s[10] != 'T' {
		s = strings.ReplaceAll(strings.ToLower(s), ",", "")
		s = strings.ReplaceAll(s, " at ", " ")
		s = strings.Join(strings.Fields(s), " ")
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FriendlyTime renders t for reading aloud: "Friday, Aug 29 at 4:00 pm".
func FriendlyTime(t time.Time) string {
	return t.Format("Monday, Jan 02 at 3:04 pm")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
