package schema

import (
	"strings"
	"time"
)

// TemporalRange is the observed span of a DateTime column.
type TemporalRange struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// Column is one profiled column.
//
// Values holds the typed value of every row in source order: bool, int64,
// float64, time.Time (UTC), string, or nil for a null cell. The dynamic type
// of every non-nil value matches Type.
type Column struct {
	Name string
	Type SemanticType

	Nullable      bool
	NullCount     int
	DistinctCount int

	// DistinctRatio is DistinctCount divided by the number of non-null values
	// (0 when the column holds no values).
	DistinctRatio float64

	IsPrimaryKey bool
	IsUnique     bool
	IsForeignKey bool

	Temporal *TemporalRange

	Values []any
}

// NonNullCount returns the number of non-null values.
func (c *Column) NonNullCount() int {
	return len(c.Values) - c.NullCount
}

// Table is one converted sheet.
//
// A Table is mutated by the profiling and key-detection stages and must be
// treated as read-only once it is handed to the writer.
type Table struct {
	// Name is the canonical table name derived from the sheet name.
	Name string
	// Sheet is the sheet name as it appears in the workbook.
	Sheet string
	// Index is the sheet position in workbook order (0-based).
	Index int

	Columns  []*Column
	RowCount int

	// PrimaryKey is the chosen primary-key column name, or "" when none.
	PrimaryKey string

	// UniqueColumns lists every unique non-null column, in column order.
	UniqueColumns []string

	DuplicateRows int
}

// Column returns the column with the given name (exact match) or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ColumnFold returns the first column whose name equals name case-insensitively.
func (t *Table) ColumnFold(name string) *Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// PrimaryKeyColumn returns the chosen primary-key column or nil.
func (t *Table) PrimaryKeyColumn() *Column {
	if t.PrimaryKey == "" {
		return nil
	}
	return t.Column(t.PrimaryKey)
}

// Relationship detection methods.
const (
	MethodNameMatch  = "name_match"
	MethodEntityName = "entity_name"
)

// Edge cardinalities.
const (
	CardinalityManyToOne = "N:1"
	CardinalityOneToOne  = "1:1"
)

// Edge is a foreign-key relationship from a source column to a target
// table's primary key.
type Edge struct {
	FromTable  string  `json:"from_table"`
	FromColumn string  `json:"from_column"`
	ToTable    string  `json:"to_table"`
	ToColumn   string  `json:"to_column"`
	Confidence float64 `json:"confidence"`

	Cardinality string `json:"cardinality,omitempty"`
	Method      string `json:"method,omitempty"`
}

// EdgeKey identifies an edge for deduplication.
type EdgeKey struct {
	FromTable, FromColumn, ToTable, ToColumn string
}

// Key returns the deduplication key of e.
func (e Edge) Key() EdgeKey {
	return EdgeKey{e.FromTable, e.FromColumn, e.ToTable, e.ToColumn}
}

// SelfReference reports whether the edge points back into its own table.
func (e Edge) SelfReference() bool {
	return e.FromTable == e.ToTable
}
