package storage

import (
	"sheetgraph/internal/schema"
)

// TableSpec describes one table to create. Specs are backend-neutral: column
// types are semantic types and each backend maps them to its own SQL types.
type TableSpec struct {
	Name string `json:"name"`
	// PrimaryKey names the primary-key column, or "" when the table has none.
	PrimaryKey string       `json:"primary_key,omitempty"`
	Columns    []ColumnSpec `json:"columns"`
}

// ColumnSpec is one column definition.
type ColumnSpec struct {
	Name     string              `json:"name"`
	Type     schema.SemanticType `json:"type"`
	Nullable bool                `json:"nullable"`
	// References is set when the column is a confirmed foreign key.
	References *Reference `json:"references,omitempty"`
}

// Reference is the target of a foreign key.
type Reference struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ColumnNames returns the column names in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// SpecsFromTables builds table specs in dependency order: a table referenced
// by another comes first. Only edges of confidence 1.0 between distinct tables
// become REFERENCES, since anything less would violate the constraint on
// insert. When edges form a cycle, the earliest remaining table is emitted
// and its references to tables not yet emitted are left out.
//
// The returned order is deterministic: ties keep workbook order.
func SpecsFromTables(tables []*schema.Table, edges []schema.Edge) []TableSpec {
	pos := make(map[string]int, len(tables))
	for i, t := range tables {
		pos[t.Name] = i
	}

	// deps[source] = edges whose target must be created first.
	deps := make(map[string][]schema.Edge)
	for _, e := range edges {
		if e.Confidence < 1 || e.SelfReference() {
			continue
		}
		if _, ok := pos[e.FromTable]; !ok {
			continue
		}
		if _, ok := pos[e.ToTable]; !ok {
			continue
		}
		deps[e.FromTable] = append(deps[e.FromTable], e)
	}

	emitted := make(map[string]bool, len(tables))
	ready := func(t *schema.Table) bool {
		for _, e := range deps[t.Name] {
			if !emitted[e.ToTable] {
				return false
			}
		}
		return true
	}

	out := make([]TableSpec, 0, len(tables))
	for len(out) < len(tables) {
		var next *schema.Table
		for _, t := range tables {
			if !emitted[t.Name] && ready(t) {
				next = t
				break
			}
		}
		if next == nil {
			for _, t := range tables {
				if !emitted[t.Name] {
					next = t
					break
				}
			}
		}
		out = append(out, specFor(next, deps[next.Name], emitted))
		emitted[next.Name] = true
	}
	return out
}

func specFor(t *schema.Table, deps []schema.Edge, emitted map[string]bool) TableSpec {
	refs := make(map[string]*Reference, len(deps))
	for _, e := range deps {
		if emitted[e.ToTable] {
			refs[e.FromColumn] = &Reference{Table: e.ToTable, Column: e.ToColumn}
		}
	}

	spec := TableSpec{Name: t.Name, PrimaryKey: t.PrimaryKey, Columns: make([]ColumnSpec, len(t.Columns))}
	for i, c := range t.Columns {
		spec.Columns[i] = ColumnSpec{
			Name:       c.Name,
			Type:       c.Type,
			Nullable:   c.Nullable,
			References: refs[c.Name],
		}
	}
	return spec
}
