package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetgraph/internal/columnar"
	"sheetgraph/internal/descriptor"
	"sheetgraph/internal/schema"
)

var jan = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func fixtureTables() []*schema.Table {
	customers := &schema.Table{
		Name: "customers", RowCount: 2, PrimaryKey: "customer_ID",
		Columns: []*schema.Column{
			{Name: "customer_ID", Type: schema.TypeText, IsPrimaryKey: true, Values: []any{"C1", "C2"}},
		},
	}
	claims := &schema.Table{
		Name: "claims", RowCount: 3,
		Columns: []*schema.Column{
			{Name: "customer_ID", Type: schema.TypeText, IsForeignKey: true, Values: []any{"C1", "C1", "C2"}},
			{Name: "filed", Type: schema.TypeDateTime, Nullable: true, NullCount: 1, Values: []any{jan, jan, nil}},
		},
	}
	return []*schema.Table{customers, claims}
}

// writeDataset persists the fixture; withDescriptor controls descriptor.json.
func writeDataset(t *testing.T, withDescriptor bool) string {
	t.Helper()

	dir := t.TempDir()
	tables := fixtureTables()
	for _, tbl := range tables {
		_, err := columnar.WriteTable(context.Background(), dir, tbl)
		require.NoError(t, err)
	}
	if withDescriptor {
		edges := []schema.Edge{{
			FromTable: "claims", FromColumn: "customer_ID", ToTable: "customers", ToColumn: "customer_ID",
			Confidence: 1, Cardinality: schema.CardinalityManyToOne, Method: schema.MethodNameMatch,
		}}
		require.NoError(t, descriptor.Write(dir, descriptor.Build("book.xlsx", tables, edges, time.Unix(0, 0))))
	}
	return dir
}

func TestLoadDirectory(t *testing.T) {
	t.Parallel()

	ds, err := Load(context.Background(), writeDataset(t, true))
	require.NoError(t, err)

	require.NotNil(t, ds.Descriptor)
	assert.Equal(t, []string{"customers", "claims"}, ds.Names, "descriptor order wins")
	require.Len(t, ds.Relationships, 1)
	assert.Equal(t, "customers", ds.Relationships[0].ToTable)

	assert.Equal(t, 5, ds.Profile.TotalRows)
	assert.Equal(t, 3, ds.Profile.TotalColumns)
	claims := ds.Profile.Tables[1]
	assert.Equal(t, "claims", claims.Name)
	assert.Equal(t, 1, claims.DuplicateRows)
	assert.Equal(t, schema.TemporalRange{Min: jan, Max: jan}, claims.Temporal["filed"])
	assert.Equal(t, "customer_ID", ds.Profile.Tables[0].PrimaryKey)
}

func TestLoadWithoutDescriptor(t *testing.T) {
	t.Parallel()

	ds, err := Load(context.Background(), writeDataset(t, false))
	require.NoError(t, err)

	assert.Nil(t, ds.Descriptor)
	assert.Empty(t, ds.Relationships)
	assert.Equal(t, []string{"claims", "customers"}, ds.Names, "file-name order without a descriptor")
	assert.True(t, ds.Table("customers").Column("customer_ID").PrimaryKey, "key metadata is stored in the file")
}

func TestLoadSingleFile(t *testing.T) {
	t.Parallel()

	dir := writeDataset(t, true)
	ds, err := Load(context.Background(), filepath.Join(dir, "claims.parquet"))
	require.NoError(t, err)

	assert.Equal(t, []string{"claims"}, ds.Names)
	assert.Empty(t, ds.Relationships, "edges need both endpoints loaded")
	assert.Equal(t, 3, ds.Profile.TotalRows)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	txt := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	_, err = Load(context.Background(), txt)
	require.ErrorContains(t, err, "not a .parquet file")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Load(ctx, writeDataset(t, true))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSchemaTables(t *testing.T) {
	t.Parallel()

	ds, err := Load(context.Background(), writeDataset(t, true))
	require.NoError(t, err)

	tables := ds.SchemaTables()
	require.Len(t, tables, 2)

	customers, claims := tables[0], tables[1]
	assert.Equal(t, "customers", customers.Name)
	assert.Equal(t, "customer_ID", customers.PrimaryKey)
	assert.True(t, customers.Columns[0].IsPrimaryKey)
	assert.Equal(t, 1.0, customers.Columns[0].DistinctRatio)

	assert.Equal(t, 1, claims.Index)
	fk := claims.Column("customer_ID")
	require.NotNil(t, fk)
	assert.True(t, fk.IsForeignKey)
	assert.Equal(t, 2, fk.DistinctCount)
	filed := claims.Column("filed")
	assert.True(t, filed.Nullable)
	assert.Equal(t, 1, filed.NullCount)
	require.NotNil(t, filed.Temporal)
	assert.Equal(t, 1, claims.DuplicateRows)
}
