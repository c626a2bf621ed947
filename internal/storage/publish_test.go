package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"sheetgraph/internal/schema"
)

type fakeRepo struct {
	limit   int
	calls   []string
	batches map[string][]int
	failOn  string
}

func (f *fakeRepo) Close()          {}
func (f *fakeRepo) ParamLimit() int { return f.limit }

func (f *fakeRepo) DropTable(_ context.Context, table string) error {
	f.calls = append(f.calls, "drop "+table)
	return nil
}

func (f *fakeRepo) EnsureTables(_ context.Context, tables []TableSpec) error {
	for _, t := range tables {
		f.calls = append(f.calls, "create "+t.Name)
	}
	return nil
}

func (f *fakeRepo) InsertRows(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if table == f.failOn {
		return 0, errors.New("constraint violated")
	}
	if f.batches == nil {
		f.batches = map[string][]int{}
	}
	f.batches[table] = append(f.batches[table], len(rows))
	return int64(len(rows)), nil
}

func rowsTable(name string, rows int, cols ...string) *schema.Table {
	t := &schema.Table{Name: name, RowCount: rows}
	for _, c := range cols {
		vals := make([]any, rows)
		for i := range vals {
			vals[i] = int64(i)
		}
		t.Columns = append(t.Columns, &schema.Column{Name: c, Type: schema.TypeInteger, Values: vals})
	}
	return t
}

func TestPublish(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{limit: 7}
	tables := []*schema.Table{
		rowsTable("claims", 10, "claim_id", "customer_id", "amount"),
		rowsTable("customers", 2, "customer_id"),
		rowsTable("empty", 0, "x"),
	}
	tables[1].PrimaryKey = "customer_id"
	edges := []schema.Edge{edge("claims", "customer_id", "customers", "customer_id", 1)}

	st, err := Publish(context.Background(), repo, tables, edges)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if st.Tables != 3 || st.Rows != 12 || st.Batches != 5 {
		t.Fatalf("stats = %+v", st)
	}
	wantCalls := []string{
		"drop empty", "drop claims", "drop customers",
		"create customers", "create claims", "create empty",
	}
	if !reflect.DeepEqual(repo.calls, wantCalls) {
		t.Fatalf("calls = %v\nwant %v", repo.calls, wantCalls)
	}
	// 7 params / 3 columns = 2 rows per batch.
	if got := repo.batches["claims"]; !reflect.DeepEqual(got, []int{2, 2, 2, 2, 2}) {
		t.Fatalf("claims batches = %v", got)
	}
}

func TestPublishInsertError(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{limit: 100, failOn: "claims"}
	tables := []*schema.Table{rowsTable("customers", 1, "id"), rowsTable("claims", 1, "id")}
	st, err := Publish(context.Background(), repo, tables, nil)
	if err == nil || st.Tables != 1 {
		t.Fatalf("Publish = %+v, %v", st, err)
	}
}

func TestPublishCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Publish(ctx, &fakeRepo{limit: 10}, []*schema.Table{rowsTable("t", 3, "a")}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Publish error = %v, want context.Canceled", err)
	}
}

func TestBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		limit, cols, want int
	}{
		{65535, 10, 6553},
		{2000, 3000, 1},
		{10, 0, 1},
		{7, 3, 2},
	}
	for _, tt := range tests {
		if got := BatchSize(tt.limit, tt.cols); got != tt.want {
			t.Fatalf("BatchSize(%d, %d) = %d, want %d", tt.limit, tt.cols, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("New accepted empty kind")
	}
	if _, err := New(context.Background(), Config{Kind: "nosuch"}); err == nil {
		t.Fatalf("New accepted an unregistered kind")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("Register accepted a nil factory")
		}
	}()
	Register("nilfactory", nil)
}
