package typing

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"automl-backend/internal/core/utils"
	"automl-backend/internal/table"

	"github.com/araddon/dateparse"
)

var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrInvalidRoles  = errors.New("invalid column roles")
	ErrCoercion      = errors.New("column conversion failed")
)

// Roles assigns columns to type buckets. Every column not listed as
// categorical or datetime is numeric.
type Roles struct {
	Categorical []string `json:"categorical"`
	Datetime    []string `json:"datetime"`
	Target      string   `json:"target"`
}

func (r Roles) TargetIsCategorical() bool {
	return slices.Contains(r.Categorical, r.Target)
}

var missingTokens = map[string]bool{
	"": true, "NA": true, "N/A": true, "n/a": true, "#N/A": true, "<NA>": true,
	"NaN": true, "nan": true, "-NaN": true, "-nan": true,
	"null": true, "NULL": true, "None": true,
}

func isMissing(s string) bool {
	return missingTokens[strings.TrimSpace(s)]
}

// ValidateRoles checks roles against the columns of a training table.
func ValidateRoles(t *table.Table, roles Roles) error {
	if roles.Target == "" {
		return fmt.Errorf("%w: a target column is required", ErrInvalidRoles)
	}
	if !t.HasColumn(roles.Target) {
		return fmt.Errorf("%w: target '%s'", ErrUnknownColumn, roles.Target)
	}
	for _, name := range slices.Concat(roles.Categorical, roles.Datetime) {
		if !t.HasColumn(name) {
			return fmt.Errorf("%w: '%s'", ErrUnknownColumn, name)
		}
	}
	for _, name := range roles.Datetime {
		if slices.Contains(roles.Categorical, name) {
			return fmt.Errorf("%w: column '%s' cannot be both categorical and datetime", ErrInvalidRoles, name)
		}
	}
	return nil
}

// Preprocess coerces every column of t to the kind given by roles and reports
// whether the target is categorical. In test mode the target is dropped from
// its bucket because prediction tables do not carry the label; if it is
// present anyway it is left untyped. The input table is not modified.
func Preprocess(t *table.Table, roles Roles, isTest bool) (*table.Table, bool, error) {
	targetIsCat := roles.TargetIsCategorical()

	categorical := slices.Clone(roles.Categorical)
	datetime := slices.Clone(roles.Datetime)
	if isTest {
		categorical = slices.DeleteFunc(categorical, func(c string) bool { return c == roles.Target })
		datetime = slices.DeleteFunc(datetime, func(c string) bool { return c == roles.Target })
	}

	kinds := make(map[string]table.Kind, t.NumColumns())
	for _, name := range categorical {
		if !t.HasColumn(name) {
			return nil, false, fmt.Errorf("%w: categorical column '%s'", ErrUnknownColumn, name)
		}
		kinds[name] = table.Categorical
	}
	for _, name := range datetime {
		if !t.HasColumn(name) {
			return nil, false, fmt.Errorf("%w: datetime column '%s'", ErrUnknownColumn, name)
		}
		if _, ok := kinds[name]; !ok {
			kinds[name] = table.Datetime
		}
	}
	for _, name := range t.ColumnNames() {
		if _, ok := kinds[name]; ok {
			continue
		}
		if isTest && name == roles.Target {
			kinds[name] = table.Raw
			continue
		}
		kinds[name] = table.Numeric
	}

	typed, err := utils.ParallelMap(t.Columns(), runtime.NumCPU(), func(col *table.Column) (*table.Column, error) {
		return Coerce(col, kinds[col.Name])
	})
	if err != nil {
		return nil, false, err
	}

	return t.WithColumns(typed), targetIsCat, nil
}

// Coerce converts a column to kind, always reading from its raw cells.
func Coerce(col *table.Column, kind table.Kind) (*table.Column, error) {
	switch kind {
	case table.Categorical:
		return toCategorical(col), nil
	case table.Datetime:
		return toDatetime(col)
	case table.Numeric:
		return toNumeric(col)
	default:
		return col.Untyped(), nil
	}
}

func toCategorical(col *table.Column) *table.Column {
	seen := make(map[string]bool)
	for _, v := range col.Raw {
		if !isMissing(v) {
			seen[v] = true
		}
	}
	levels := make([]string, 0, len(seen))
	for v := range seen {
		levels = append(levels, v)
	}
	sort.Strings(levels)

	codeOf := make(map[string]int, len(levels))
	for i, level := range levels {
		codeOf[level] = i
	}

	codes := make([]int, len(col.Raw))
	for i, v := range col.Raw {
		if isMissing(v) {
			codes[i] = -1
		} else {
			codes[i] = codeOf[v]
		}
	}

	return &table.Column{Name: col.Name, Kind: table.Categorical, Raw: col.Raw, Levels: levels, Codes: codes}
}

func toDatetime(col *table.Column) (*table.Column, error) {
	times := make([]time.Time, len(col.Raw))
	for i, v := range col.Raw {
		if isMissing(v) {
			continue
		}
		ts, err := dateparse.ParseIn(strings.TrimSpace(v), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: column '%s' row %d: cannot parse '%s' as a datetime: %v", ErrCoercion, col.Name, i+1, v, err)
		}
		times[i] = ts.UTC()
	}
	return &table.Column{Name: col.Name, Kind: table.Datetime, Raw: col.Raw, Times: times}, nil
}

func toNumeric(col *table.Column) (*table.Column, error) {
	floats := make([]float64, len(col.Raw))
	for i, v := range col.Raw {
		if isMissing(v) {
			floats[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: column '%s' row %d: cannot convert '%s' to a number, mark it as categorical or datetime instead", ErrCoercion, col.Name, i+1, v)
		}
		if math.IsInf(f, 0) {
			f = math.NaN()
		}
		floats[i] = f
	}
	return &table.Column{Name: col.Name, Kind: table.Numeric, Raw: col.Raw, Floats: floats}, nil
}
