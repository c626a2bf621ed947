package probe

import "sheetgraph/internal/schema"

// ProfileTable classifies every column of a sheet and computes its
// statistics. rows must already be padded to len(header).
//
// The returned issues are TypeCoercionWarnings scoped to the sheet, table and
// column. Key flags are left for the key detector.
func ProfileTable(name, sheet string, header []string, rows [][]string, opt Options) (*schema.Table, []schema.Issue) {
	tbl := &schema.Table{
		Name:     name,
		Sheet:    sheet,
		RowCount: len(rows),
		Columns:  make([]*schema.Column, len(header)),
	}

	var issues []schema.Issue
	values := make([]string, len(rows))
	for j, colName := range header {
		for i, r := range rows {
			values[i] = ""
			if j < len(r) {
				values[i] = r[j]
			}
		}
		cls := Classify(values, opt)
		col := columnFrom(colName, cls)
		tbl.Columns[j] = col

		if iss, ok := coercionIssue(cls); ok {
			issues = append(issues, iss.In(sheet, name, colName))
		}
	}

	tbl.DuplicateRows = CountDuplicateRows(tbl.Columns, tbl.RowCount)
	return tbl, issues
}

func columnFrom(name string, cls Classification) *schema.Column {
	return NewColumn(name, cls.Type, cls.Values)
}

// NewColumn computes the statistics of a column whose values are already
// typed: null and distinct counts, the distinct ratio and, for DateTime, the
// temporal range.
func NewColumn(name string, typ schema.SemanticType, values []any) *schema.Column {
	col := &schema.Column{
		Name:   name,
		Type:   typ,
		Values: values,
	}

	distinct := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == nil {
			col.NullCount++
			continue
		}
		distinct[schema.KeyString(v)] = struct{}{}
	}
	col.Nullable = col.NullCount > 0
	col.DistinctCount = len(distinct)
	if nn := col.NonNullCount(); nn > 0 {
		col.DistinctRatio = float64(col.DistinctCount) / float64(nn)
	}
	if col.Type == schema.TypeDateTime {
		col.Temporal = TemporalRangeOf(col.Values)
	}
	return col
}

// coercionIssue reports values that did not survive classification: dates
// that failed to parse in a DateTime column, or a Text column that partially
// matched a richer type.
func coercionIssue(cls Classification) (schema.Issue, bool) {
	switch {
	case cls.Type == schema.TypeDateTime && cls.Coerced > 0:
		return schema.NewIssue(schema.KindTypeCoercion,
			"%d of %d values did not parse as DateTime and were set to null",
			cls.Coerced, cls.NonNull), true
	case cls.Type == schema.TypeText && cls.Matched > 0:
		return schema.NewIssue(schema.KindTypeCoercion,
			"%d of %d values parse as %s; column kept as Text (%.1f%% coverage)",
			cls.Matched, cls.NonNull, cls.Partial, 100*float64(cls.Matched)/float64(cls.NonNull)), true
	default:
		return schema.Issue{}, false
	}
}
