// Package probe infers a semantic type for every column from its full value
// set and computes the per-column and per-table statistics the key detector
// and the writers rely on.
//
// Classification precedence, first match wins:
//
//	Boolean -> Integer -> Float -> DateTime -> Text
//
// Boolean, Integer and Float require every non-null value to parse. DateTime
// requires a coverage ratio of at least Options.DateTimeThreshold; the values
// that do not parse become null. Everything else is Text.
package probe

import (
	"strings"
	"time"

	"sheetgraph/internal/schema"
)

// DefaultDateTimeThreshold is the share of non-null values that must parse as
// dates for a column to be classified DateTime.
const DefaultDateTimeThreshold = 0.95

// Options tunes classification. The zero value uses the defaults.
type Options struct {
	DateTimeThreshold float64
}

func (o Options) dateTimeThreshold() float64 {
	if o.DateTimeThreshold <= 0 || o.DateTimeThreshold > 1 {
		return DefaultDateTimeThreshold
	}
	return o.DateTimeThreshold
}

// nullTokens are cell texts read as missing values. A lone "-" is a value.
var nullTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"n/a":  {},
	"NULL": {},
	"null": {},
	"NaN":  {},
	"nan":  {},
	"None": {},
	"#N/A": {},
}

// IsNull reports whether a trimmed cell text is a null token.
func IsNull(s string) bool {
	_, ok := nullTokens[strings.TrimSpace(s)]
	return ok
}

// Classification is the outcome of classifying one column.
type Classification struct {
	Type schema.SemanticType

	// Values holds one typed value per input value (nil for nulls).
	Values []any

	// NonNull counts input values that are not null tokens.
	NonNull int
	// Matched counts non-null values that parsed as Type. For Text it counts
	// the values that matched the richest partially matching type.
	Matched int
	// Coerced counts non-null values turned into null (DateTime only).
	Coerced int
	// Partial is the richer type a Text column partially matched, or Text.
	Partial schema.SemanticType
}

// Classify maps a column's full value set to one semantic type and returns
// the typed values. It is pure: the same input always yields the same result.
func Classify(values []string, opt Options) Classification {
	n := len(values)
	var (
		nonNull                    int
		nBool, nInt, nFloat, nDate int

		isNull = make([]bool, n)
		bools  = make([]bool, n)
		ints   = make([]int64, n)
		floats = make([]float64, n)
		dates  = make([]time.Time, n)

		okBool  = make([]bool, n)
		okInt   = make([]bool, n)
		okFloat = make([]bool, n)
		okDate  = make([]bool, n)
	)

	for i, raw := range values {
		v := strings.TrimSpace(raw)
		if IsNull(v) {
			isNull[i] = true
			continue
		}
		nonNull++

		if b, ok := parseBoolLoose(v); ok {
			bools[i], okBool[i] = b, true
			nBool++
		}
		if iv, ok := parseIntLoose(v); ok {
			ints[i], okInt[i] = iv, true
			nInt++
		}
		if f, ok := parseFloatLoose(v); ok {
			floats[i], okFloat[i] = f, true
			nFloat++
		}
		if d, ok := parseDateTimeLoose(v); ok {
			dates[i], okDate[i] = d, true
			nDate++
		}
	}

	c := Classification{
		Type:    schema.TypeText,
		Values:  make([]any, n),
		NonNull: nonNull,
		Partial: schema.TypeText,
	}

	switch {
	case nonNull == 0:
		// An all-null column stays Text with nil values.
		return c
	case nBool == nonNull:
		c.Type, c.Matched = schema.TypeBoolean, nBool
		fill(c.Values, isNull, okBool, func(i int) any { return bools[i] })
	case nInt == nonNull:
		c.Type, c.Matched = schema.TypeInteger, nInt
		fill(c.Values, isNull, okInt, func(i int) any { return ints[i] })
	case nFloat == nonNull:
		c.Type, c.Matched = schema.TypeFloat, nFloat
		fill(c.Values, isNull, okFloat, func(i int) any { return floats[i] })
	case float64(nDate)/float64(nonNull) >= opt.dateTimeThreshold():
		c.Type, c.Matched = schema.TypeDateTime, nDate
		c.Coerced = nonNull - nDate
		fill(c.Values, isNull, okDate, func(i int) any { return dates[i] })
	default:
		for i, raw := range values {
			if !isNull[i] {
				c.Values[i] = strings.TrimSpace(raw)
			}
		}
		c.Partial, c.Matched = richestPartial(nBool, nInt, nFloat, nDate)
	}
	return c
}

// fill writes typed values for rows that parsed; nulls and unparsed rows
// stay nil.
func fill(dst []any, isNull, ok []bool, at func(int) any) {
	for i := range dst {
		if isNull[i] || !ok[i] {
			continue
		}
		dst[i] = at(i)
	}
}

// richestPartial picks the type with the most matches among the richer types,
// preferring the earlier type in precedence order on ties.
func richestPartial(nBool, nInt, nFloat, nDate int) (schema.SemanticType, int) {
	best, n := schema.TypeText, 0
	for _, cand := range []struct {
		t schema.SemanticType
		n int
	}{
		{schema.TypeBoolean, nBool},
		{schema.TypeInteger, nInt},
		{schema.TypeFloat, nFloat},
		{schema.TypeDateTime, nDate},
	} {
		if cand.n > n {
			best, n = cand.t, cand.n
		}
	}
	return best, n
}
