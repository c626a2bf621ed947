// Package validate rereads persisted tables and cross-checks them against the
// in-memory profile and the descriptor. It never deletes output.
package validate

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"sheetgraph/internal/columnar"
	"sheetgraph/internal/descriptor"
	"sheetgraph/internal/schema"
)

// Options tunes validation.
type Options struct {
	// Workers bounds concurrent table rereads. Zero means GOMAXPROCS.
	Workers int
}

// TableReport is the reread view of one table.
type TableReport struct {
	Name     string
	Path     string
	RowCount int
	Columns  int
}

// Report lists every table that was reread successfully, in input order.
type Report struct {
	Tables []TableReport
}

// Validate rereads <dir>/<table>.parquet for every table and asserts:
//   - reread row count == profile row count == descriptor row count
//   - column count, names and semantic types match the profile and the
//     descriptor
//
// Mismatches and unreadable files are collected into one
// *schema.ValidationError. A canceled context returns ctx.Err().
func Validate(ctx context.Context, dir string, tables []*schema.Table, d descriptor.Descriptor, opt Options) (Report, error) {
	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	problems := make([][]schema.ValidationProblem, len(tables))
	reports := make([]*TableReport, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range tables {
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i], problems[i] = checkTable(gctx, dir, t, d.Table(t.Name))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	var (
		rep  Report
		verr schema.ValidationError
	)
	for i := range tables {
		if reports[i] != nil {
			rep.Tables = append(rep.Tables, *reports[i])
		}
		verr.Problems = append(verr.Problems, problems[i]...)
	}

	profiled := make(map[string]bool, len(tables))
	for _, t := range tables {
		profiled[t.Name] = true
	}
	for _, dt := range d.Tables {
		if !profiled[dt.Name] {
			verr.Problems = append(verr.Problems, schema.ValidationProblem{
				Table: dt.Name, Message: "listed in the descriptor but not produced by this run",
			})
		}
	}

	if len(verr.Problems) > 0 {
		return rep, &verr
	}
	return rep, nil
}

func checkTable(ctx context.Context, dir string, t *schema.Table, dt *descriptor.Table) (*TableReport, []schema.ValidationProblem) {
	var probs []schema.ValidationProblem
	add := func(format string, args ...any) {
		probs = append(probs, schema.ValidationProblem{Table: t.Name, Message: fmt.Sprintf(format, args...)})
	}

	if dt == nil {
		add("missing from the descriptor")
	}

	path := filepath.Join(dir, columnar.FileName(t.Name))
	rt, err := columnar.ReadTable(ctx, path)
	if err != nil {
		add("reread failed: %v", err)
		return nil, probs
	}
	rep := &TableReport{Name: t.Name, Path: path, RowCount: rt.RowCount, Columns: len(rt.Columns)}

	if rt.RowCount != t.RowCount {
		add("reread row count %d != profile row count %d", rt.RowCount, t.RowCount)
	}
	if len(rt.Columns) != len(t.Columns) {
		add("reread column count %d != profile column count %d", len(rt.Columns), len(t.Columns))
	} else {
		for i, c := range t.Columns {
			rc := rt.Columns[i]
			if rc.Name != c.Name || rc.Type != c.Type {
				add("column %d reread as %s %s, profile has %s %s", i, rc.Name, rc.Type, c.Name, c.Type)
			}
		}
	}

	if dt == nil {
		return rep, probs
	}
	if dt.RowCount != rt.RowCount {
		add("reread row count %d != descriptor row count %d", rt.RowCount, dt.RowCount)
	}
	if len(dt.Columns) != len(rt.Columns) {
		add("reread column count %d != descriptor column count %d", len(rt.Columns), len(dt.Columns))
		return rep, probs
	}
	for i, dc := range dt.Columns {
		rc := rt.Columns[i]
		if rc.Name != dc.Name || rc.Type != dc.Type {
			add("column %d reread as %s %s, descriptor has %s %s", i, rc.Name, rc.Type, dc.Name, dc.Type)
		}
	}
	return rep, probs
}
