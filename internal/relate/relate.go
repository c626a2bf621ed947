// Package relate turns foreign-key candidates into relationship edges scored
// by value overlap. It runs after every table's primary key is resolved.
package relate

import (
	"sort"
	"strings"

	"sheetgraph/internal/keys"
	"sheetgraph/internal/schema"
)

// DefaultOverlapThreshold is the minimum overlap ratio for an edge to be kept.
const DefaultOverlapThreshold = 0.8

// Options tunes inference. The zero value uses the defaults.
type Options struct {
	OverlapThreshold float64
}

func (o Options) threshold() float64 {
	if o.OverlapThreshold <= 0 || o.OverlapThreshold > 1 {
		return DefaultOverlapThreshold
	}
	return o.OverlapThreshold
}

// Infer scores every foreign-key candidate across tables and returns the kept
// edges plus RelationshipAmbiguityWarnings.
//
// Confidence is |distinct source values ∩ target key values| divided by
// |distinct source values|, nulls ignored. Edges below the threshold are
// dropped. When one source column matches several targets the best edge is
// kept (ties go to the earlier target table) and the rest are reported.
//
// Infer sets Column.IsForeignKey on the source of every kept edge.
func Infer(tables []*schema.Table, opt Options) ([]schema.Edge, []schema.Issue) {
	pos := make(map[string]int, len(tables))
	byName := make(map[string]*schema.Table, len(tables))
	for i, t := range tables {
		pos[t.Name] = i
		byName[t.Name] = t
		for _, c := range t.Columns {
			c.IsForeignKey = false
		}
	}

	keySets := make(map[string]map[string]struct{})
	keySet := func(t *schema.Table) map[string]struct{} {
		if s, ok := keySets[t.Name]; ok {
			return s
		}
		s := distinctKeys(t.PrimaryKeyColumn())
		keySets[t.Name] = s
		return s
	}

	type source struct{ table, column string }
	var (
		order     []source
		groups    = make(map[source][]schema.Edge)
		threshold = opt.threshold()
	)
	for _, c := range keys.ForeignKeyCandidates(tables) {
		src, dst := byName[c.FromTable], byName[c.ToTable]
		col := src.Column(c.FromColumn)
		conf, ok := Overlap(col, keySet(dst))
		if !ok || conf < threshold {
			continue
		}
		e := schema.Edge{
			FromTable:   c.FromTable,
			FromColumn:  c.FromColumn,
			ToTable:     c.ToTable,
			ToColumn:    c.ToColumn,
			Confidence:  conf,
			Cardinality: cardinality(col),
			Method:      c.Method,
		}
		k := source{c.FromTable, c.FromColumn}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	var (
		edges  []schema.Edge
		issues []schema.Issue
		seen   = make(map[schema.EdgeKey]bool)
	)
	for _, k := range order {
		group := groups[k]
		best := 0
		for i := 1; i < len(group); i++ {
			g, b := group[i], group[best]
			if g.Confidence > b.Confidence || (g.Confidence == b.Confidence && pos[g.ToTable] < pos[b.ToTable]) {
				best = i
			}
		}
		keep := group[best]
		if len(group) > 1 {
			var dropped []string
			for i, e := range group {
				if i != best {
					dropped = append(dropped, e.ToTable+"."+e.ToColumn)
				}
			}
			src := byName[k.table]
			issues = append(issues, schema.NewIssue(schema.KindRelationshipAmbiguity,
				"%d candidate targets; kept %s.%s (confidence %.2f), dropped %s",
				len(group), keep.ToTable, keep.ToColumn, keep.Confidence, strings.Join(dropped, ", ")).
				In(src.Sheet, k.table, k.column))
		}
		if seen[keep.Key()] {
			continue
		}
		seen[keep.Key()] = true
		edges = append(edges, keep)
		byName[k.table].Column(k.column).IsForeignKey = true
	}

	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if pos[a.FromTable] != pos[b.FromTable] {
			return pos[a.FromTable] < pos[b.FromTable]
		}
		ai, bi := byName[a.FromTable].ColumnIndex(a.FromColumn), byName[b.FromTable].ColumnIndex(b.FromColumn)
		if ai != bi {
			return ai < bi
		}
		return pos[a.ToTable] < pos[b.ToTable]
	})
	return edges, issues
}

// Overlap returns the share of the column's distinct non-null values found in
// targets. ok is false when the column has no values.
func Overlap(col *schema.Column, targets map[string]struct{}) (float64, bool) {
	src := distinctKeys(col)
	if len(src) == 0 {
		return 0, false
	}
	hit := 0
	for k := range src {
		if _, ok := targets[k]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(src)), true
}

func distinctKeys(col *schema.Column) map[string]struct{} {
	out := make(map[string]struct{})
	if col == nil {
		return out
	}
	for _, v := range col.Values {
		if v == nil {
			continue
		}
		out[schema.KeyString(v)] = struct{}{}
	}
	return out
}

func cardinality(col *schema.Column) string {
	if col.NonNullCount() > 0 && col.DistinctCount == col.NonNullCount() {
		return schema.CardinalityOneToOne
	}
	return schema.CardinalityManyToOne
}
