package columnar

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"sheetgraph/internal/schema"
)

// Column is one column read back from a table file.
type Column struct {
	Name       string
	Type       schema.SemanticType
	Nullable   bool
	PrimaryKey bool
	// Values holds bool, int64, float64, time.Time (UTC), string or nil.
	Values []any
}

// Table is a table file read back into memory.
type Table struct {
	Name     string
	Path     string
	RowCount int
	Columns  []Column
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ReadTable reads a table file. The table name is the file name without its
// extension.
func ReadTable(ctx context.Context, path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer pr.Close()

	fr, err := pqarrow.NewFileReader(pr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("arrow reader %s: %w", path, err)
	}
	at, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	defer at.Release()

	out := &Table{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:     path,
		RowCount: int(at.NumRows()),
		Columns:  make([]Column, at.NumCols()),
	}
	sc := at.Schema()
	for i := 0; i < int(at.NumCols()); i++ {
		f := sc.Field(i)
		typ, err := semanticTypeOf(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		col := Column{
			Name:       f.Name,
			Type:       typ,
			Nullable:   f.Nullable,
			PrimaryKey: metaValue(f, MetaPrimaryKey) == "true",
			Values:     make([]any, 0, out.RowCount),
		}
		for _, chunk := range at.Column(i).Data().Chunks() {
			col.Values, err = appendValues(col.Values, chunk)
			if err != nil {
				return nil, fmt.Errorf("%s column %s: %w", path, f.Name, err)
			}
		}
		out.Columns[i] = col
	}
	return out, nil
}

func metaValue(f arrow.Field, key string) string {
	if i := f.Metadata.FindKey(key); i >= 0 {
		return f.Metadata.Values()[i]
	}
	return ""
}

// semanticTypeOf recovers the semantic type from the Arrow type. Files written
// by other tools fall back to Text for string-like types.
func semanticTypeOf(f arrow.Field) (schema.SemanticType, error) {
	switch f.Type.ID() {
	case arrow.BOOL:
		return schema.TypeBoolean, nil
	case arrow.INT64, arrow.INT32, arrow.INT16, arrow.INT8:
		return schema.TypeInteger, nil
	case arrow.FLOAT64, arrow.FLOAT32:
		return schema.TypeFloat, nil
	case arrow.TIMESTAMP:
		return schema.TypeDateTime, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return schema.TypeText, nil
	default:
		return schema.TypeText, fmt.Errorf("field %s: unsupported arrow type %s", f.Name, f.Type)
	}
}

func appendValues(dst []any, arr arrow.Array) ([]any, error) {
	n := arr.Len()
	for i := 0; i < n; i++ {
		if arr.IsNull(i) {
			dst = append(dst, nil)
			continue
		}
		switch a := arr.(type) {
		case *array.Boolean:
			dst = append(dst, a.Value(i))
		case *array.Int64:
			dst = append(dst, a.Value(i))
		case *array.Int32:
			dst = append(dst, int64(a.Value(i)))
		case *array.Int16:
			dst = append(dst, int64(a.Value(i)))
		case *array.Int8:
			dst = append(dst, int64(a.Value(i)))
		case *array.Float64:
			dst = append(dst, a.Value(i))
		case *array.Float32:
			dst = append(dst, float64(a.Value(i)))
		case *array.Timestamp:
			unit := a.DataType().(*arrow.TimestampType).Unit
			dst = append(dst, a.Value(i).ToTime(unit).UTC())
		case *array.String:
			dst = append(dst, a.Value(i))
		case *array.LargeString:
			dst = append(dst, a.Value(i))
		default:
			return dst, fmt.Errorf("unsupported array %T", arr)
		}
	}
	return dst, nil
}
