package quant

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shenwei356/xopen"
)

// Table is a tab-separated file read fully into memory.
type Table struct {
	Header []string
	Rows   [][]string
}

// Cell returns row[i], or "" when the row is short.
func (t *Table) Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// ReadTable reads a TSV file, skipping lines that start with '#'. The first
// remaining line is the header. Gzip/xz/zstd inputs are decompressed
// transparently.
func ReadTable(path string) (*Table, error) {
	// xopen wraps open errors; stat first so callers can test for fs.ErrNotExist.
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	t, err := parseTable(fh)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

var errNoHeader = errors.New("no header line")

func parseTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errNoHeader
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimRight(h, "\r")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}
