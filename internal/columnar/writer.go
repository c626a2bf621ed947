// Package columnar persists profiled tables as Parquet files through the
// Arrow Go implementation and reads them back.
//
// Arrow types per semantic type:
//
//	Boolean  -> bool
//	Integer  -> int64
//	Float    -> float64
//	DateTime -> timestamp[us, tz=UTC]
//	Text     -> utf8
//
// Each field carries the semantic type and the primary-key flag as field
// metadata, and the Arrow schema is stored in the file.
package columnar

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"sheetgraph/internal/schema"
)

// Extension is the file extension of table files.
const Extension = ".parquet"

// Field metadata keys.
const (
	MetaSemanticType = "sheetgraph.semantic_type"
	MetaPrimaryKey   = "sheetgraph.primary_key"
)

// FileName returns the file name for a table.
func FileName(table string) string {
	return table + Extension
}

// ArrowType maps a semantic type to its Arrow type.
func ArrowType(t schema.SemanticType) arrow.DataType {
	switch t {
	case schema.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case schema.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case schema.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case schema.TypeDateTime:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// ArrowSchema builds the Arrow schema of a table.
func ArrowSchema(t *schema.Table) *arrow.Schema {
	fields := make([]arrow.Field, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     ArrowType(c.Type),
			Nullable: c.Nullable,
			Metadata: arrow.NewMetadata(
				[]string{MetaSemanticType, MetaPrimaryKey},
				[]string{c.Type.String(), strconv.FormatBool(c.IsPrimaryKey)},
			),
		}
	}
	return arrow.NewSchema(fields, nil)
}

// Encode renders a table as Parquet bytes. Identical tables encode to
// identical bytes.
func Encode(t *schema.Table) ([]byte, error) {
	sc := ArrowSchema(t)

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	w, err := pqarrow.NewFileWriter(sc, &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, fmt.Errorf("parquet writer: %w", err)
	}

	if t.RowCount > 0 {
		rec, err := buildRecord(sc, t)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		err = w.Write(rec)
		rec.Release()
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("write record: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func buildRecord(sc *arrow.Schema, t *schema.Table) (arrow.Record, error) {
	b := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer b.Release()

	for j, c := range t.Columns {
		if len(c.Values) != t.RowCount {
			return nil, fmt.Errorf("column %s has %d values, table has %d rows", c.Name, len(c.Values), t.RowCount)
		}
		if err := appendColumn(b.Field(j), c); err != nil {
			return nil, err
		}
	}
	return b.NewRecord(), nil
}

func appendColumn(fb array.Builder, c *schema.Column) error {
	for i, v := range c.Values {
		if v == nil {
			fb.AppendNull()
			continue
		}
		ok := false
		switch bld := fb.(type) {
		case *array.BooleanBuilder:
			var x bool
			if x, ok = v.(bool); ok {
				bld.Append(x)
			}
		case *array.Int64Builder:
			var x int64
			if x, ok = v.(int64); ok {
				bld.Append(x)
			}
		case *array.Float64Builder:
			var x float64
			if x, ok = v.(float64); ok {
				bld.Append(x)
			}
		case *array.TimestampBuilder:
			var x time.Time
			if x, ok = v.(time.Time); ok {
				bld.Append(arrow.Timestamp(x.UnixMicro()))
			}
		case *array.StringBuilder:
			var x string
			if x, ok = v.(string); ok {
				bld.Append(x)
			}
		}
		if !ok {
			return fmt.Errorf("column %s row %d: %T value in %s column", c.Name, i, v, c.Type)
		}
	}
	return nil
}

// WriteTable writes t to <dir>/<name>.parquet and returns the path. The file
// is encoded in memory and renamed into place, so it is either complete or
// absent.
func WriteTable(ctx context.Context, dir string, t *schema.Table) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := Encode(t)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", t.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(t.Name))
	if err := WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write %s: %w", t.Name, err)
	}
	return path, nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place.
func WriteFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
