package automl

import (
	"bytes"
	"fmt"

	"automl-backend/internal/table"
)

// NewFrame converts a typed table to the engine format. Columns listed in
// forceEnum are typed as Enum regardless of their kind.
func NewFrame(name string, t *table.Table, forceEnum ...string) (Frame, error) {
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return Frame{}, fmt.Errorf("error serializing frame %s: %w", name, err)
	}

	enum := make(map[string]bool, len(forceEnum))
	for _, c := range forceEnum {
		enum[c] = true
	}

	names := t.ColumnNames()
	types := make([]ColumnType, len(names))
	for j, col := range t.Columns() {
		if enum[col.Name] {
			types[j] = EnumColumn
		} else {
			types[j] = columnTypeOf(col.Kind)
		}
	}

	return Frame{Name: name, CSV: buf.Bytes(), ColumnNames: names, ColumnTypes: types}, nil
}
