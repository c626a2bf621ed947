package probe

import (
	"fmt"
	"sort"
	"strings"

	"sheetgraph/internal/schema"
)

// FormatUniquenessReport renders per-column uniqueness for the tables,
// lowest distinct ratio first within each table. Columns without values are
// omitted.
func FormatUniquenessReport(tables []*schema.Table) string {
	if len(tables) == 0 {
		return "uniqueness: no tables"
	}

	type row struct {
		col   string
		typ   schema.SemanticType
		dist  int
		den   int
		ratio float64
		pk    bool
	}

	var b strings.Builder
	for ti, t := range tables {
		if ti > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "uniqueness report:\ttable=%s\trows=%d\tduplicate_rows=%d\n", t.Name, t.RowCount, t.DuplicateRows)
		fmt.Fprintf(&b, "%-20s\t%-8s\t%-7s\t%-7s\tratio\tpk\n", "col", "type", "unique", "rows")

		rows := make([]row, 0, len(t.Columns))
		for _, c := range t.Columns {
			den := c.NonNullCount()
			if den <= 0 {
				continue
			}
			rows = append(rows, row{
				col:   c.Name,
				typ:   c.Type,
				dist:  c.DistinctCount,
				den:   den,
				ratio: c.DistinctRatio,
				pk:    c.IsPrimaryKey,
			})
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].ratio == rows[j].ratio {
				return rows[i].col < rows[j].col
			}
			return rows[i].ratio < rows[j].ratio
		})
		for _, r := range rows {
			fmt.Fprintf(&b, "%-20s\t%-8s\t%-7d\t%-7d\t%.1f%%\t%t\n",
				r.col, r.typ, r.dist, r.den, r.ratio*100, r.pk)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
