// Package testutil provides shared fixtures for tests across the codebase,
// following the net/http/httptest convention.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// SheetData is one worksheet fixture: a name and rows of cell values.
type SheetData struct {
	Name string
	Rows [][]any
}

// WriteWorkbook writes an .xlsx file under t.TempDir() and returns its path.
func WriteWorkbook(t testing.TB, file string, sheets ...SheetData) string {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			t.Fatalf("new sheet %q: %v", sh.Name, err)
		}
		for r, row := range sh.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			vals := row
			if err := f.SetSheetRow(sh.Name, cell, &vals); err != nil {
				t.Fatalf("set row %d of %q: %v", r+1, sh.Name, err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), file)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

// CustomersClaims returns the two-sheet customers/claims fixture: three
// customers with unique IDs and five claims referencing them.
func CustomersClaims() []SheetData {
	return []SheetData{
		{Name: "customers", Rows: [][]any{
			{"customer_ID", "name"},
			{"C1", "Ada"},
			{"C2", "Grace"},
			{"C3", "Linus"},
		}},
		{Name: "claims", Rows: [][]any{
			{"claim_ID", "customer_ID", "amount"},
			{"K1", "C1", "1,200.50"},
			{"K2", "C2", "$300"},
			{"K3", "C1", "75.25"},
			{"K4", "C3", "10"},
			{"K5", "C2", "99.99"},
		}},
	}
}
