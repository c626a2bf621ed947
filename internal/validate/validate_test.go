package validate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sheetgraph/internal/columnar"
	"sheetgraph/internal/descriptor"
	"sheetgraph/internal/keys"
	"sheetgraph/internal/probe"
	"sheetgraph/internal/schema"
)

// persist profiles the fixture, writes both tables and the descriptor into a
// fresh directory, and returns everything a Validate call needs.
func persist(t *testing.T) (string, []*schema.Table, descriptor.Descriptor) {
	t.Helper()

	customers, _ := probe.ProfileTable("customers", "customers",
		[]string{"customer_ID", "name"},
		[][]string{{"C1", "Ada"}, {"C2", "Grace"}, {"C3", "Linus"}},
		probe.Options{})
	claims, _ := probe.ProfileTable("claims", "claims",
		[]string{"claim_ID", "customer_ID", "amount"},
		[][]string{{"K1", "C1", "10"}, {"K2", "C1", "20.5"}, {"K3", "C2", ""}},
		probe.Options{})
	tables := []*schema.Table{customers, claims}
	for i, tbl := range tables {
		tbl.Index = i
		keys.DetectPrimaryKey(tbl)
	}

	dir := t.TempDir()
	for _, tbl := range tables {
		if _, err := columnar.WriteTable(context.Background(), dir, tbl); err != nil {
			t.Fatalf("WriteTable(%s): %v", tbl.Name, err)
		}
	}
	d := descriptor.Build("book.xlsx", tables, nil, time.Unix(0, 0))
	if err := descriptor.Write(dir, d); err != nil {
		t.Fatalf("descriptor.Write: %v", err)
	}
	return dir, tables, d
}

func TestValidateOK(t *testing.T) {
	t.Parallel()

	dir, tables, d := persist(t)
	rep, err := Validate(context.Background(), dir, tables, d, Options{Workers: 2})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(rep.Tables) != 2 {
		t.Fatalf("report has %d tables, want 2", len(rep.Tables))
	}
	for i, want := range []struct {
		name string
		rows int
		cols int
	}{{"customers", 3, 2}, {"claims", 3, 3}} {
		got := rep.Tables[i]
		if got.Name != want.name || got.RowCount != want.rows || got.Columns != want.cols {
			t.Fatalf("report[%d] = %+v, want %s rows=%d cols=%d", i, got, want.name, want.rows, want.cols)
		}
	}
}

func TestValidateDescriptorMismatch(t *testing.T) {
	t.Parallel()

	dir, tables, d := persist(t)
	d.Table("claims").RowCount = 99

	_, err := Validate(context.Background(), dir, tables, d, Options{})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate error = %v, want *schema.ValidationError", err)
	}
	if got := verr.Tables(); len(got) != 1 || got[0] != "claims" {
		t.Fatalf("offending tables = %v, want [claims]", got)
	}
	if !strings.Contains(err.Error(), "descriptor row count 99") {
		t.Fatalf("error = %q", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "claims.parquet")); statErr != nil {
		t.Fatalf("validation removed output: %v", statErr)
	}
}

func TestValidateMissingFile(t *testing.T) {
	t.Parallel()

	dir, tables, d := persist(t)
	if err := os.Remove(filepath.Join(dir, "customers.parquet")); err != nil {
		t.Fatal(err)
	}

	rep, err := Validate(context.Background(), dir, tables, d, Options{})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate error = %v, want *schema.ValidationError", err)
	}
	if got := verr.Tables(); len(got) != 1 || got[0] != "customers" {
		t.Fatalf("offending tables = %v, want [customers]", got)
	}
	if len(rep.Tables) != 1 || rep.Tables[0].Name != "claims" {
		t.Fatalf("report = %+v, want only claims", rep.Tables)
	}
}

func TestValidateProfileMismatch(t *testing.T) {
	t.Parallel()

	dir, tables, d := persist(t)
	tables[0].RowCount = 4

	_, err := Validate(context.Background(), dir, tables, d, Options{})
	if err == nil || !strings.Contains(err.Error(), "profile row count 4") {
		t.Fatalf("Validate error = %v", err)
	}
}

func TestValidateDescriptorExtraTable(t *testing.T) {
	t.Parallel()

	dir, tables, d := persist(t)
	d.Tables = append(d.Tables, descriptor.Table{Name: "orphans", File: "orphans.parquet"})

	_, err := Validate(context.Background(), dir, tables, d, Options{})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) || verr.Tables()[0] != "orphans" {
		t.Fatalf("Validate error = %v, want orphans flagged", err)
	}
}

func TestValidateCanceled(t *testing.T) {
	t.Parallel()

	dir, tables, d := persist(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Validate(ctx, dir, tables, d, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Validate error = %v, want context.Canceled", err)
	}
}
