// Package descriptor writes and reads descriptor.json, the snapshot of the
// inferred schema and relationship graph stored next to the table files.
//
// A descriptor is immutable once written. Each run replaces it wholesale.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"sheetgraph/internal/columnar"
	"sheetgraph/internal/schema"
)

// FileName is the descriptor's file name inside an output directory.
const FileName = "descriptor.json"

// Version is the descriptor schema version.
const Version = "1.0"

// ErrNotFound is returned by Read when the directory has no descriptor.
var ErrNotFound = errors.New("descriptor not found")

// Descriptor is the serialized conversion snapshot.
type Descriptor struct {
	Version       string         `json:"version"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Source        string         `json:"source,omitempty"`
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

type Table struct {
	Name       string   `json:"name"`
	File       string   `json:"file"`
	RowCount   int      `json:"row_count"`
	PrimaryKey string   `json:"primary_key,omitempty"`
	Columns    []Column `json:"columns"`
}

type Column struct {
	Name          string                `json:"name"`
	Type          schema.SemanticType   `json:"type"`
	Nullable      bool                  `json:"nullable"`
	IsPrimaryKey  bool                  `json:"is_primary_key"`
	IsForeignKey  bool                  `json:"is_foreign_key"`
	DistinctRatio float64               `json:"distinct_ratio"`
	TemporalRange *schema.TemporalRange `json:"temporal_range,omitempty"`
}

type Relationship = schema.Edge

// Build snapshots tables and edges. source is the input file's base name.
func Build(source string, tables []*schema.Table, edges []schema.Edge, now time.Time) Descriptor {
	d := Descriptor{
		Version:       Version,
		GeneratedAt:   now.UTC(),
		Source:        source,
		Tables:        make([]Table, 0, len(tables)),
		Relationships: make([]Relationship, 0, len(edges)),
	}
	for _, t := range tables {
		dt := Table{
			Name:       t.Name,
			File:       columnar.FileName(t.Name),
			RowCount:   t.RowCount,
			PrimaryKey: t.PrimaryKey,
			Columns:    make([]Column, len(t.Columns)),
		}
		for i, c := range t.Columns {
			dt.Columns[i] = Column{
				Name:          c.Name,
				Type:          c.Type,
				Nullable:      c.Nullable,
				IsPrimaryKey:  c.IsPrimaryKey,
				IsForeignKey:  c.IsForeignKey,
				DistinctRatio: c.DistinctRatio,
				TemporalRange: c.Temporal,
			}
		}
		d.Tables = append(d.Tables, dt)
	}
	d.Relationships = append(d.Relationships, edges...)
	return d
}

// Table returns the named table entry or nil.
func (d *Descriptor) Table(name string) *Table {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}

// Write stores d as <dir>/descriptor.json using write-temp-then-rename.
func Write(dir string, d Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	data = append(data, '\n')
	if err := columnar.WriteFileAtomic(filepath.Join(dir, FileName), data); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

// Read loads a descriptor from a file path or from an output directory.
func Read(path string) (Descriptor, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Descriptor{}, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if d.Version == "" {
		return Descriptor{}, fmt.Errorf("parse %s: missing version", path)
	}
	return d, nil
}
