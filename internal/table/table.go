package table

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
)

type Kind string

const (
	Raw         Kind = "raw"
	Categorical Kind = "categorical"
	Datetime    Kind = "datetime"
	Numeric     Kind = "numeric"
)

const DatetimeLayout = "2006-01-02 15:04:05"

// Column keeps the cells exactly as they were parsed in Raw. The typed
// slices are only populated for the matching Kind and always have len(Raw)
// entries.
type Column struct {
	Name string
	Kind Kind
	Raw  []string

	// Categorical: Codes index into Levels, -1 is a missing value.
	Levels []string
	Codes  []int

	// Datetime: the zero time is a missing value.
	Times []time.Time

	// Numeric: NaN is a missing value.
	Floats []float64
}

func (c *Column) Len() int {
	return len(c.Raw)
}

// Value renders row i of the column using its typed representation.
func (c *Column) Value(i int) string {
	switch c.Kind {
	case Categorical:
		if c.Codes[i] < 0 {
			return ""
		}
		return c.Levels[c.Codes[i]]
	case Datetime:
		if c.Times[i].IsZero() {
			return ""
		}
		return c.Times[i].Format(DatetimeLayout)
	case Numeric:
		if math.IsNaN(c.Floats[i]) {
			return ""
		}
		return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
	default:
		return c.Raw[i]
	}
}

func (c *Column) clone(rows int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Raw: append([]string(nil), c.Raw[:rows]...)}
	if c.Levels != nil {
		out.Levels = append([]string(nil), c.Levels...)
	}
	if c.Codes != nil {
		out.Codes = append([]int(nil), c.Codes[:rows]...)
	}
	if c.Times != nil {
		out.Times = append([]time.Time(nil), c.Times[:rows]...)
	}
	if c.Floats != nil {
		out.Floats = append([]float64(nil), c.Floats[:rows]...)
	}
	return out
}

// Untyped resets the column to its raw cells.
func (c *Column) Untyped() *Column {
	return &Column{Name: c.Name, Kind: Raw, Raw: c.Raw}
}

type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New builds a raw table from a header and row-major cells. Short rows are
// padded with empty cells and long rows are truncated to the header width.
func New(header []string, rows [][]string) (*Table, error) {
	names := dedupeNames(header)

	columns := make([]*Column, len(names))
	for j, name := range names {
		columns[j] = &Column{Name: name, Kind: Raw, Raw: make([]string, len(rows))}
	}

	for i, row := range rows {
		for j := range columns {
			if j < len(row) {
				columns[j].Raw[i] = row[j]
			}
		}
	}

	return FromColumns(columns)
}

// FromColumns assembles a table from existing columns, which must all have the
// same length and distinct names.
func FromColumns(columns []*Column) (*Table, error) {
	t := &Table{columns: columns, index: make(map[string]int, len(columns))}
	for j, col := range columns {
		if _, exists := t.index[col.Name]; exists {
			return nil, fmt.Errorf("duplicate column name '%s'", col.Name)
		}
		if j == 0 {
			t.rows = col.Len()
		} else if col.Len() != t.rows {
			return nil, fmt.Errorf("column '%s' has %d rows, expected %d", col.Name, col.Len(), t.rows)
		}
		t.index[col.Name] = j
	}
	return t, nil
}

func (t *Table) NumRows() int {
	return t.rows
}

func (t *Table) NumColumns() int {
	return len(t.columns)
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for j, col := range t.columns {
		names[j] = col.Name
	}
	return names
}

func (t *Table) Columns() []*Column {
	return t.columns
}

func (t *Table) Column(name string) (*Column, bool) {
	j, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[j], true
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

func (t *Table) Kinds() []Kind {
	kinds := make([]Kind, len(t.columns))
	for j, col := range t.columns {
		kinds[j] = col.Kind
	}
	return kinds
}

// Head returns a copy of the first n rows.
func (t *Table) Head(n int) *Table {
	n = max(0, min(n, t.rows))
	columns := make([]*Column, len(t.columns))
	for j, col := range t.columns {
		columns[j] = col.clone(n)
	}
	return &Table{columns: columns, index: copyIndex(t.index), rows: n}
}

func (t *Table) Clone() *Table {
	return t.Head(t.rows)
}

// WithColumns returns a table sharing the unchanged columns of t, with the
// given columns replaced by name.
func (t *Table) WithColumns(replaced []*Column) *Table {
	columns := append([]*Column(nil), t.columns...)
	for _, col := range replaced {
		if j, ok := t.index[col.Name]; ok {
			columns[j] = col
		}
	}
	return &Table{columns: columns, index: copyIndex(t.index), rows: t.rows}
}

// Without returns a table sharing the columns of t minus the named ones.
// Unknown names are ignored.
func (t *Table) Without(names ...string) *Table {
	columns := make([]*Column, 0, len(t.columns))
	index := make(map[string]int, len(t.columns))
	for _, col := range t.columns {
		if slices.Contains(names, col.Name) {
			continue
		}
		index[col.Name] = len(columns)
		columns = append(columns, col)
	}
	return &Table{columns: columns, index: index, rows: t.rows}
}

// Rows renders the table row-major using the typed value of every column.
func (t *Table) Rows() [][]string {
	out := make([][]string, t.rows)
	for i := range out {
		row := make([]string, len(t.columns))
		for j, col := range t.columns {
			row[j] = col.Value(i)
		}
		out[i] = row
	}
	return out
}

// Fingerprint is a content hash over column names, kinds and typed values.
func (t *Table) Fingerprint() string {
	h := sha256.New()
	for _, col := range t.columns {
		fmt.Fprintf(h, "%q:%s\x00", col.Name, col.Kind)
		for i := 0; i < t.rows; i++ {
			fmt.Fprintf(h, "%q\x1f", col.Value(i))
		}
		h.Write([]byte{'\x1e'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func copyIndex(index map[string]int) map[string]int {
	out := make(map[string]int, len(index))
	for k, v := range index {
		out[k] = v
	}
	return out
}

// dedupeNames mirrors the naming used by common dataframe readers: blank
// headers become "Unnamed: <i>" and repeats get ".1", ".2" suffixes.
func dedupeNames(header []string) []string {
	used := make(map[string]bool, len(header))
	next := make(map[string]int)
	names := make([]string, len(header))
	for j, name := range header {
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", j)
		}
		candidate := name
		for used[candidate] {
			next[name]++
			candidate = fmt.Sprintf("%s.%d", name, next[name])
		}
		used[candidate] = true
		names[j] = candidate
	}
	return names
}
