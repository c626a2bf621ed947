// Package loader reads a converted dataset back for downstream consumers.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sheetgraph/internal/columnar"
	"sheetgraph/internal/descriptor"
	"sheetgraph/internal/probe"
	"sheetgraph/internal/schema"
)

// Dataset is a loaded output directory or single table file.
type Dataset struct {
	Path string
	// Descriptor is nil when the directory has none. Key and relationship
	// metadata are then unavailable.
	Descriptor *descriptor.Descriptor

	// Names lists the tables in descriptor order, or file-name order when
	// there is no descriptor.
	Names  []string
	Tables map[string]*columnar.Table

	Relationships []schema.Edge
	Profile       Profile
}

// Table returns the named table or nil.
func (d *Dataset) Table(name string) *columnar.Table {
	return d.Tables[name]
}

// SchemaTables rebuilds profiled tables from the loaded files, in Names
// order: column statistics are recomputed and key flags come from the file
// metadata, the descriptor and the relationships.
func (d *Dataset) SchemaTables() []*schema.Table {
	fks := make(map[string]map[string]bool)
	for _, e := range d.Relationships {
		if fks[e.FromTable] == nil {
			fks[e.FromTable] = make(map[string]bool)
		}
		fks[e.FromTable][e.FromColumn] = true
	}

	out := make([]*schema.Table, 0, len(d.Names))
	for i, name := range d.Names {
		ct := d.Tables[name]
		t := &schema.Table{Name: name, Sheet: name, Index: i, RowCount: ct.RowCount}
		if d.Descriptor != nil {
			if dt := d.Descriptor.Table(name); dt != nil {
				t.PrimaryKey = dt.PrimaryKey
			}
		}
		for _, c := range ct.Columns {
			col := probe.NewColumn(c.Name, c.Type, c.Values)
			col.Nullable = col.Nullable || c.Nullable
			if c.PrimaryKey && t.PrimaryKey == "" {
				t.PrimaryKey = c.Name
			}
			col.IsForeignKey = fks[name][c.Name]
			t.Columns = append(t.Columns, col)
		}
		if pk := t.PrimaryKeyColumn(); pk != nil {
			pk.IsPrimaryKey = true
		}
		t.DuplicateRows = probe.CountDuplicateRows(t.Columns, t.RowCount)
		out = append(out, t)
	}
	return out
}

// Profile summarizes a dataset.
type Profile struct {
	TotalRows    int            `json:"total_rows"`
	TotalColumns int            `json:"total_columns"`
	Tables       []TableProfile `json:"tables"`
}

// TableProfile is the per-table part of a Profile.
type TableProfile struct {
	Name          string                          `json:"name"`
	Rows          int                             `json:"rows"`
	Columns       int                             `json:"columns"`
	DuplicateRows int                             `json:"duplicate_rows"`
	PrimaryKey    string                          `json:"primary_key,omitempty"`
	Temporal      map[string]schema.TemporalRange `json:"temporal_ranges,omitempty"`
}

// Load reads path, which is an output directory or one table file.
//
// A directory is enumerated for table files; its descriptor, when present,
// fixes the table order and supplies relationships. For a single file the
// descriptor next to it is consulted for that table only.
func Load(ctx context.Context, path string) (*Dataset, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	var (
		dir   = path
		files []string
	)
	if fi.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*"+columnar.Extension))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		sort.Strings(files)
	} else {
		if !strings.EqualFold(filepath.Ext(path), columnar.Extension) {
			return nil, fmt.Errorf("load %s: not a %s file", path, columnar.Extension)
		}
		dir = filepath.Dir(path)
		files = []string{path}
	}

	ds := &Dataset{Path: path, Tables: make(map[string]*columnar.Table, len(files))}

	d, err := descriptor.Read(dir)
	switch {
	case err == nil:
		ds.Descriptor = &d
	case errors.Is(err, descriptor.ErrNotFound):
	default:
		return nil, err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := columnar.ReadTable(ctx, f)
		if err != nil {
			return nil, err
		}
		ds.Tables[t.Name] = t
	}

	ds.Names = orderNames(ds)
	if ds.Descriptor != nil {
		for _, e := range ds.Descriptor.Relationships {
			if ds.Tables[e.FromTable] != nil && ds.Tables[e.ToTable] != nil {
				ds.Relationships = append(ds.Relationships, e)
			}
		}
	}
	ds.Profile = profile(ds)
	return ds, nil
}

func orderNames(ds *Dataset) []string {
	var names []string
	seen := make(map[string]bool, len(ds.Tables))
	if ds.Descriptor != nil {
		for _, dt := range ds.Descriptor.Tables {
			if ds.Tables[dt.Name] != nil {
				names = append(names, dt.Name)
				seen[dt.Name] = true
			}
		}
	}
	var rest []string
	for name := range ds.Tables {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

func profile(ds *Dataset) Profile {
	var p Profile
	for _, name := range ds.Names {
		t := ds.Tables[name]
		cols := make([]*schema.Column, len(t.Columns))
		tp := TableProfile{Name: name, Rows: t.RowCount, Columns: len(t.Columns)}
		for i, c := range t.Columns {
			cols[i] = &schema.Column{Name: c.Name, Type: c.Type, Values: c.Values}
			if c.PrimaryKey {
				tp.PrimaryKey = c.Name
			}
			if c.Type != schema.TypeDateTime {
				continue
			}
			if r := probe.TemporalRangeOf(c.Values); r != nil {
				if tp.Temporal == nil {
					tp.Temporal = make(map[string]schema.TemporalRange)
				}
				tp.Temporal[c.Name] = *r
			}
		}
		if tp.PrimaryKey == "" && ds.Descriptor != nil {
			if dt := ds.Descriptor.Table(name); dt != nil {
				tp.PrimaryKey = dt.PrimaryKey
			}
		}
		tp.DuplicateRows = probe.CountDuplicateRows(cols, t.RowCount)

		p.TotalRows += tp.Rows
		p.TotalColumns += tp.Columns
		p.Tables = append(p.Tables, tp)
	}
	return p
}
