package workbook

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// readCSV reads a delimited text file as a single sheet named after the file.
//
// Decoding goes through x/text: a byte order mark selects UTF-8/UTF-16,
// otherwise Options.Encoding (default UTF-8) applies.
func readCSV(ctx context.Context, path string, opt Options) ([]rawSheet, error) {
	dec, err := decoderFor(opt.Encoding)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(transform.NewReader(f, xunicode.BOMOverride(dec.NewDecoder())))
	cr.Comma = ','
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var rows [][]string
	for line := 1; ; line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(rows) == 0 {
				return []rawSheet{{name: name, err: fmt.Errorf("read header: %w", err)}}, nil
			}
			return nil, fmt.Errorf("csv read line %d: %w", line, err)
		}
		rows = append(rows, rec)
	}
	return []rawSheet{{name: name, rows: rows}}, nil
}

func decoderFor(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return xunicode.UTF8, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown text encoding %q", ErrUnsupportedFormat, label)
	}
	return enc, nil
}
