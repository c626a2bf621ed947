package workbook

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxColspan bounds how far a single cell may widen a row.
const maxColspan = 256

// readHTML treats every top-level <table> as a sheet. Nested tables are
// flattened into their parent cell's text.
//
// Sheet names come from data-sheet, then <caption>, then id, then "Sheet<N>".
func readHTML(ctx context.Context, path string) ([]rawSheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}

	var out []rawSheet
	doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		if ctx.Err() != nil || tbl.ParentsFiltered("table").Length() > 0 {
			return
		}
		idx := len(out)
		out = append(out, rawSheet{
			name:  htmlSheetName(tbl, idx),
			index: idx,
			rows:  htmlRows(tbl),
		})
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("html document contains no <table>")
	}
	return out, nil
}

func htmlSheetName(tbl *goquery.Selection, idx int) string {
	if v := strings.TrimSpace(tbl.AttrOr("data-sheet", "")); v != "" {
		return v
	}
	if v := collapseSpace(tbl.ChildrenFiltered("caption").First().Text()); v != "" {
		return v
	}
	if v := strings.TrimSpace(tbl.AttrOr("id", "")); v != "" {
		return v
	}
	return "Sheet" + strconv.Itoa(idx+1)
}

func htmlRows(tbl *goquery.Selection) [][]string {
	var rows [][]string
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if !tr.Closest("table").IsSelection(tbl) {
			return
		}
		var row []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, collapseSpace(cell.Text()))
			span, err := strconv.Atoi(cell.AttrOr("colspan", "1"))
			if err != nil || span < 1 {
				span = 1
			}
			for k := 1; k < span && k < maxColspan; k++ {
				row = append(row, "")
			}
		})
		rows = append(rows, row)
	})
	return rows
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
