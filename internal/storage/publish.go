package storage

import (
	"context"
	"fmt"

	"sheetgraph/internal/schema"
)

// PublishStats reports what Publish wrote.
type PublishStats struct {
	Tables  int
	Rows    int64
	Batches int
}

// Publish replaces the converted tables in repo:
//  1. drop existing tables in reverse dependency order
//  2. create them in dependency order
//  3. insert rows in dependency order, in batches sized to the backend's
//     bind-parameter limit
//
// Publish is not transactional. A failure leaves the tables written so far;
// rerunning replaces them.
func Publish(ctx context.Context, repo Repository, tables []*schema.Table, edges []schema.Edge) (PublishStats, error) {
	var st PublishStats
	if err := ctx.Err(); err != nil {
		return st, err
	}
	specs := SpecsFromTables(tables, edges)

	for i := len(specs) - 1; i >= 0; i-- {
		if err := repo.DropTable(ctx, specs[i].Name); err != nil {
			return st, fmt.Errorf("drop %s: %w", specs[i].Name, err)
		}
	}
	if err := repo.EnsureTables(ctx, specs); err != nil {
		return st, err
	}

	byName := make(map[string]*schema.Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	for _, spec := range specs {
		t := byName[spec.Name]
		n, batches, err := insertTable(ctx, repo, spec, t)
		st.Rows += n
		st.Batches += batches
		if err != nil {
			return st, fmt.Errorf("insert %s: %w", spec.Name, err)
		}
		st.Tables++
	}
	return st, nil
}

// BatchSize returns how many rows of width columns fit into one statement.
func BatchSize(paramLimit, columns int) int {
	if columns <= 0 {
		return 1
	}
	if n := paramLimit / columns; n > 0 {
		return n
	}
	return 1
}

func insertTable(ctx context.Context, repo Repository, spec TableSpec, t *schema.Table) (int64, int, error) {
	if t.RowCount == 0 || len(t.Columns) == 0 {
		return 0, 0, nil
	}
	cols := spec.ColumnNames()
	size := BatchSize(repo.ParamLimit(), len(cols))

	var (
		total   int64
		batches int
	)
	for start := 0; start < t.RowCount; start += size {
		if err := ctx.Err(); err != nil {
			return total, batches, err
		}
		end := start + size
		if end > t.RowCount {
			end = t.RowCount
		}
		rows := make([][]any, 0, end-start)
		for i := start; i < end; i++ {
			row := make([]any, len(t.Columns))
			for j, c := range t.Columns {
				row[j] = c.Values[i]
			}
			rows = append(rows, row)
		}
		n, err := repo.InsertRows(ctx, spec.Name, cols, rows)
		total += n
		batches++
		if err != nil {
			return total, batches, err
		}
	}
	return total, batches, nil
}
