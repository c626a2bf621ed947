// Package keys chooses one primary key per table and lists the columns that
// may reference another table's primary key.
//
// Primary key rules:
//   - A candidate has RowCount > 0, no nulls and one distinct value per row.
//     Every candidate is recorded in Table.UniqueColumns.
//   - A candidate whose last name token is a key marker (id, number, no, num,
//     nr, key) beats any other candidate; the leftmost such column wins.
//   - With no marker match the leftmost candidate is chosen.
//
// Foreign key candidates are matched by name only; the overlap check lives in
// the relate package because it needs every table's key resolved first.
package keys

import (
	"strings"
	"unicode"

	"sheetgraph/internal/schema"
)

var keyMarkers = map[string]bool{
	"id":     true,
	"number": true,
	"no":     true,
	"num":    true,
	"nr":     true,
	"key":    true,
}

// IsCandidate reports whether c can serve as a primary key of t.
func IsCandidate(t *schema.Table, c *schema.Column) bool {
	return t.RowCount > 0 && c.NullCount == 0 && c.DistinctCount == t.RowCount
}

// DetectPrimaryKey flags unique columns, chooses the primary key, and returns
// its name ("" when the table has none). It is safe to call repeatedly.
func DetectPrimaryKey(t *schema.Table) string {
	t.PrimaryKey = ""
	t.UniqueColumns = nil

	var first, marked *schema.Column
	for _, c := range t.Columns {
		c.IsPrimaryKey = false
		c.IsUnique = IsCandidate(t, c)
		if !c.IsUnique {
			continue
		}
		t.UniqueColumns = append(t.UniqueColumns, c.Name)
		if first == nil {
			first = c
		}
		if marked == nil && HasKeyMarker(c.Name) {
			marked = c
		}
	}

	chosen := marked
	if chosen == nil {
		chosen = first
	}
	if chosen == nil {
		return ""
	}
	chosen.IsPrimaryKey = true
	t.PrimaryKey = chosen.Name
	return chosen.Name
}

// HasKeyMarker reports whether the last word of name is a key marker:
// customer_ID, customerId, OrderNumber, "Policy No".
func HasKeyMarker(name string) bool {
	words := Words(name)
	return len(words) > 0 && keyMarkers[words[len(words)-1]]
}

// Words splits an identifier into lowercase words on separators, case changes
// (customerId, HTTPServer) and letter/digit boundaries.
func Words(name string) []string {
	rs := []rune(name)
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			switch {
			case unicode.IsDigit(r) != unicode.IsDigit(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) &&
				i+1 < len(rs) && unicode.IsLower(rs[i+1]):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
