package probe

import (
	"crypto/sha256"
	"strconv"
	"strings"
	"time"

	"sheetgraph/internal/schema"
)

const hashSeparator = "\x1f"

// RowHash computes a deterministic SHA-256 over the typed values of row i.
//
// Canonicalization:
//   - Values are joined in column order with the ASCII unit separator.
//   - A nil value is encoded as a single NUL byte so missing differs from "".
//   - time.Time values are encoded as RFC3339Nano in UTC.
func RowHash(cols []*schema.Column, i int) [sha256.Size]byte {
	var b strings.Builder
	b.Grow(len(cols) * 16)
	for j, c := range cols {
		if j > 0 {
			b.WriteString(hashSeparator)
		}
		var v any
		if i < len(c.Values) {
			v = c.Values[i]
		}
		appendCanonicalValue(&b, v)
	}
	return sha256.Sum256([]byte(b.String()))
}

func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')
	case string:
		b.WriteString(t)
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case int:
		b.WriteString(strconv.Itoa(t))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		b.WriteString(t.UTC().Format(time.RFC3339Nano))
	default:
		b.WriteString(schema.KeyString(t))
	}
}

// CountDuplicateRows counts rows in [0, rows) that repeat an earlier row.
func CountDuplicateRows(cols []*schema.Column, rows int) int {
	if len(cols) == 0 || rows < 2 {
		return 0
	}
	seen := make(map[[sha256.Size]byte]struct{}, rows)
	dups := 0
	for i := 0; i < rows; i++ {
		h := RowHash(cols, i)
		if _, ok := seen[h]; ok {
			dups++
			continue
		}
		seen[h] = struct{}{}
	}
	return dups
}

// TemporalRangeOf returns the min/max of the time values in vals, or nil when
// there are none.
func TemporalRangeOf(vals []any) *schema.TemporalRange {
	var r *schema.TemporalRange
	for _, v := range vals {
		t, ok := v.(time.Time)
		if !ok {
			continue
		}
		if r == nil {
			r = &schema.TemporalRange{Min: t, Max: t}
			continue
		}
		if t.Before(r.Min) {
			r.Min = t
		}
		if t.After(r.Max) {
			r.Max = t
		}
	}
	return r
}
