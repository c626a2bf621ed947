package probe

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// parseBoolLoose accepts the textual boolean spellings. Numeric 0/1 flags are
// left to the integer parser.
func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	default:
		return false, false
	}
}

const (
	currencySymbols = "$€£¥₹"
	// comma, apostrophe, no-break space, thin space, narrow no-break space
	groupSeparators = ",'\u00a0\u2009\u202f"
)

// cleanNumeric strips formatting artifacts from a numeric cell and returns a
// string strconv can parse: currency symbols, thousands separators, a leading
// plus sign, and accounting parentheses (rewritten as a minus sign).
//
// Thousands groups are checked: "1,200" cleans to "1200" while "1,5" is
// rejected, so a decimal comma never silently changes magnitude.
func cleanNumeric(s string) (string, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if len(s) > 2 && s[0] == '(' && s[len(s)-1] == ')' {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(strings.Map(func(r rune) rune {
		if strings.ContainsRune(currencySymbols, r) {
			return -1
		}
		return r
	}, s))

	sign := ""
	switch {
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "-"):
		sign, s = "-", s[1:]
	}
	if neg {
		if sign != "" {
			return "", false
		}
		sign = "-"
	}

	mant, exp := s, ""
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mant, exp = s[:i], s[i:]
		if !validExponent(exp) {
			return "", false
		}
	}
	intPart, frac := mant, ""
	if i := strings.IndexByte(mant, '.'); i >= 0 {
		intPart, frac = mant[:i], mant[i:]
		if !allDigits(frac[1:]) {
			return "", false
		}
	}
	intPart, ok := stripGrouping(intPart)
	if !ok || (intPart == "" && len(frac) < 2) {
		return "", false
	}
	return sign + intPart + frac + exp, true
}

func stripGrouping(s string) (string, bool) {
	if !strings.ContainsAny(s, groupSeparators) {
		return s, allDigits(s)
	}
	var (
		b     strings.Builder
		group int
		first = true
	)
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			group++
		case strings.ContainsRune(groupSeparators, r):
			if (first && (group < 1 || group > 3)) || (!first && group != 3) {
				return "", false
			}
			first, group = false, 0
		default:
			return "", false
		}
	}
	if group != 3 {
		return "", false
	}
	return b.String(), true
}

func validExponent(e string) bool {
	e = e[1:]
	if strings.HasPrefix(e, "+") || strings.HasPrefix(e, "-") {
		e = e[1:]
	}
	return e != "" && allDigits(e)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseIntLoose(s string) (int64, bool) {
	c, ok := cleanNumeric(s)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(c, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseFloatLoose(s string) (float64, bool) {
	c, ok := cleanNumeric(s)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(c, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// dateTimeLayouts are tried in order; the first layout that parses wins.
// Slashed dates are month-first with a day-first fallback, dotted dates are
// day-first. Values without a zone are read as UTC.
var dateTimeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"1/2/2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/06",
	"1/2/06 15:04",
	"2/1/2006",
	"2/1/2006 15:04:05",
	"01-02-06",
	"2.1.2006",
	"2.1.2006 15:04",
	"2.1.2006 15:04:05",
	"2.1.06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"2-Jan-06",
	"Mon, 02 Jan 2006 15:04:05 MST",
}

func parseDateTimeLoose(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 6 {
		return time.Time{}, false
	}
	for _, lay := range dateTimeLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
