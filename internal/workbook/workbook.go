// Package workbook reads a spreadsheet file into raw per-sheet buffers: a
// canonical table name, a header row and the data rows, all as trimmed text.
//
// Supported inputs:
//   - Office Open XML workbooks (.xlsx, .xlsm, .xltx, .xltm) via excelize.
//   - Delimited text (.csv, .tsv, .txt) as a single sheet named after the file.
//   - HTML tables (.html, .htm, and HTML exported under an .xls name), one
//     sheet per top-level <table>.
//
// Failure policy:
//   - An unreadable or corrupt workbook returns a *schema.FormatError.
//   - A sheet without cells is skipped with an EmptySheetError warning.
//   - A sheet whose rows cannot be parsed is skipped with a HeaderError warning.
//   - A sheet with a header but no data rows is kept as a zero-row table and
//     reported with an EmptySheetError warning.
package workbook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sheetgraph/internal/schema"
)

// ErrUnsupportedFormat is wrapped by the FormatError returned for inputs that
// no reader understands.
var ErrUnsupportedFormat = errors.New("unsupported workbook format")

// Sheet is one parsed sheet.
type Sheet struct {
	// Name is the canonical table name, unique within the workbook.
	Name string
	// Source is the sheet name as it appears in the workbook.
	Source string
	// Index is the sheet position in workbook order.
	Index int

	Header []string
	Rows   [][]string
}

// Options tunes the delimited-text reader. The zero value is usable.
type Options struct {
	// Comma is the field delimiter. Zero selects tab for .tsv and comma otherwise.
	Comma rune
	// Encoding is a WHATWG label such as "utf-8", "windows-1252" or "utf-16le".
	// Empty means UTF-8. A byte order mark always wins.
	Encoding string
}

// Result is the ordered list of kept sheets plus per-sheet warnings.
type Result struct {
	Sheets []Sheet
	Issues []schema.Issue
}

// rawSheet is what a format-specific reader produces before header handling.
type rawSheet struct {
	name  string
	index int
	rows  [][]string
	err   error
}

// Read parses the workbook at path.
//
// The returned error is either a *schema.FormatError or the context's error.
func Read(ctx context.Context, path string, opt Options) (Result, error) {
	raws, err := readRaw(ctx, path, opt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		var fe *schema.FormatError
		if errors.As(err, &fe) {
			return Result{}, fe
		}
		return Result{}, &schema.FormatError{Path: path, Err: err}
	}
	if len(raws) == 0 {
		return Result{}, &schema.FormatError{Path: path, Err: errors.New("workbook contains no sheets")}
	}

	return shapeSheets(raws), nil
}

// shapeSheets turns raw sheets into named sheets. A sheet whose rows could not
// be read is a HeaderError; a sheet with no non-blank cell is an
// EmptySheetError. Both are skipped.
func shapeSheets(raws []rawSheet) Result {
	var res Result
	for _, raw := range raws {
		if raw.err != nil {
			res.Issues = append(res.Issues,
				schema.NewIssue(schema.KindHeader, "sheet skipped: %v", raw.err).In(raw.name, "", ""))
			continue
		}
		sh, iss, keep := shapeSheet(raw)
		if iss != nil {
			res.Issues = append(res.Issues, *iss)
		}
		if keep {
			res.Sheets = append(res.Sheets, sh)
		}
	}

	assignNames(res.Sheets)
	for i := range res.Issues {
		res.Issues[i].Table = tableForSheet(res.Sheets, res.Issues[i].Sheet)
	}
	return res
}

func tableForSheet(sheets []Sheet, source string) string {
	for _, s := range sheets {
		if s.Source == source {
			return s.Name
		}
	}
	return ""
}

func readRaw(ctx context.Context, path string, opt Options) ([]rawSheet, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return readXLSX(ctx, path)
	case ".csv", ".tsv", ".txt":
		if opt.Comma == 0 && ext == ".tsv" {
			opt.Comma = '\t'
		}
		return readCSV(ctx, path, opt)
	case ".html", ".htm":
		return readHTML(ctx, path)
	case ".xls":
		return readLegacyXLS(ctx, path)
	default:
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
}

var (
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipMagic = []byte("PK\x03\x04")
)

// readLegacyXLS dispatches on content: many systems export HTML or even
// OOXML under an .xls name. Genuine BIFF8 files are rejected.
func readLegacyXLS(ctx context.Context, path string) ([]rawSheet, error) {
	head, err := peek(path, 512)
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return readXLSX(ctx, path)
	case bytes.HasPrefix(head, oleMagic):
		return nil, fmt.Errorf("%w: binary .xls (BIFF); re-save the workbook as .xlsx", ErrUnsupportedFormat)
	case looksLikeHTML(head):
		return readHTML(ctx, path)
	default:
		return nil, fmt.Errorf("%w: unrecognized .xls content", ErrUnsupportedFormat)
	}
}

func peek(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	m, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:m], nil
}

func looksLikeHTML(head []byte) bool {
	s := strings.ToLower(string(bytes.TrimLeft(bytes.TrimPrefix(head, []byte("\xEF\xBB\xBF")), " \t\r\n")))
	return strings.HasPrefix(s, "<") &&
		(strings.Contains(s, "<html") || strings.Contains(s, "<table") || strings.HasPrefix(s, "<!doctype html"))
}

// shapeSheet finds the header, names columns and pads rows.
func shapeSheet(raw rawSheet) (Sheet, *schema.Issue, bool) {
	sh := Sheet{Source: raw.name, Index: raw.index}

	headerAt := -1
	for i, r := range raw.rows {
		trimRow(r)
		if headerAt < 0 && !blankRow(r) {
			headerAt = i
		}
	}
	if headerAt < 0 {
		iss := schema.NewIssue(schema.KindEmptySheet, "sheet has no cells; skipped").In(raw.name, "", "")
		return sh, &iss, false
	}

	header := raw.rows[headerAt]
	width := lastNonBlank(header) + 1
	var data [][]string
	for _, r := range raw.rows[headerAt+1:] {
		if blankRow(r) {
			continue
		}
		if w := lastNonBlank(r) + 1; w > width {
			width = w
		}
		data = append(data, r)
	}

	sh.Header = columnNames(header, width)
	sh.Rows = make([][]string, len(data))
	for i, r := range data {
		row := make([]string, width)
		copy(row, r)
		sh.Rows[i] = row
	}

	if len(sh.Rows) == 0 {
		iss := schema.NewIssue(schema.KindEmptySheet, "sheet has a header but no data rows; kept as an empty table").In(raw.name, "", "")
		return sh, &iss, true
	}
	return sh, nil, true
}

// columnNames fills blank header cells with column_<N> and suffixes
// case-insensitive duplicates with _2, _3, ...
func columnNames(header []string, width int) []string {
	out := make([]string, width)
	taken := make(map[string]bool, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(header) {
			name = header[i]
		}
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		out[i] = uniqueName(name, taken)
	}
	return out
}

func uniqueName(base string, taken map[string]bool) string {
	name := base
	for n := 2; taken[strings.ToLower(name)]; n++ {
		name = base + "_" + strconv.Itoa(n)
	}
	taken[strings.ToLower(name)] = true
	return name
}

func trimRow(r []string) {
	for i, v := range r {
		r[i] = strings.TrimSpace(strings.TrimPrefix(v, "\uFEFF"))
	}
}

func blankRow(r []string) bool {
	return lastNonBlank(r) < 0
}

func lastNonBlank(r []string) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] != "" {
			return i
		}
	}
	return -1
}
