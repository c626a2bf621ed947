package workbook

import (
	"context"

	"github.com/xuri/excelize/v2"
)

// readXLSX returns every worksheet in workbook order. Cell values are the
// formatted strings a spreadsheet user sees, so dates arrive in their number
// format rather than as serial numbers.
func readXLSX(ctx context.Context, path string) ([]rawSheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	out := make([]rawSheet, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(name)
		out = append(out, rawSheet{name: name, index: i, rows: rows, err: err})
	}
	return out, nil
}
