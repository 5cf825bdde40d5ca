package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const utf8BOM = "\ufeff"

var ErrEmptyInput = errors.New("no header row found")

// ReadCSV parses a CSV stream whose first record is the header. Ragged rows
// are accepted and padded to the header width.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("error reading csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading csv row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, record)
	}

	return New(header, rows)
}

// WriteCSV writes the header followed by every row rendered with its typed
// value, so typed columns are written in a normalized form.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("error writing csv header: %w", err)
	}
	if err := writer.WriteAll(t.Rows()); err != nil {
		return fmt.Errorf("error writing csv rows: %w", err)
	}
	return nil
}
