package domain

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	hourPart   = regexp.MustCompile(`(\d+(?:\.\d+)?)h`)
	minutePart = regexp.MustCompile(`(\d+)m`)
	bareNumber = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
)

// ParseDurationMinutes parses loose duration strings as users type them:
// "90m", "2h", "1.5h", "1h30m", or a bare number taken as minutes.
// Returns 0, false for empty or unparseable input.
func ParseDurationMinutes(s string) (int, bool) {
	s = strings.ToLower(strings.ReplaceAll(s, " ", ""))
	if s == "" {
		return 0, false
	}

	total := 0.0
	matched := false
	if loc := hourPart.FindStringSubmatchIndex(s); loc != nil {
		h, err := strconv.ParseFloat(s[loc[2]:loc[3]], 64)
		if err == nil {
			total += h * 60
			matched = true
		}
		s = s[loc[1]:]
	}
	if m := minutePart.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			total += float64(n)
			matched = true
		}
	}
	if !matched {
		if !bareNumber.MatchString(s) {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		total = n
	}

	minutes := int(total + 0.5)
	if minutes <= 0 {
		return 0, false
	}
	return minutes, true
}
