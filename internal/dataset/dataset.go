// Package dataset holds the in-memory tabular model shared by the fetch,
// validate and load stages.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Row maps a column name to a scalar value: string, float64, bool or nil.
type Row map[string]interface{}

// Clone returns a shallow copy of the row. Values are scalars so a shallow
// copy fully isolates the caller from the original.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Values returns the row's values ordered by columns. Missing columns yield nil.
func (r Row) Values(columns []string) []interface{} {
	out := make([]interface{}, len(columns))
	for i, col := range columns {
		out[i] = r[col]
	}
	return out
}

// Dataset is an ordered header plus ordered rows. Every row carries exactly
// the header's column set.
type Dataset struct {
	Columns []string
	Rows    []Row
}

var (
	errEmptyHeader     = errors.New("header row is empty")
	errEmptyColumnName = errors.New("header contains an empty column name")
	errDuplicateColumn = errors.New("header contains a duplicate column name")
)

// New builds a Dataset from a header and string cells, checking that the
// header is usable and every record has exactly len(header) cells.
// When infer is true, cells are converted with InferValue; otherwise they
// stay strings. Errors here describe structural problems with the source.
func New(header []string, records [][]string, infer bool) (*Dataset, error) {
	columns, err := normalizeHeader(header)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{Columns: columns, Rows: make([]Row, 0, len(records))}
	for i, rec := range records {
		if len(rec) != len(columns) {
			// Data rows are 1-based after the header line.
			return nil, fmt.Errorf("row %d has %d fields, header has %d", i+2, len(rec), len(columns))
		}
		row := make(Row, len(columns))
		for j, col := range columns {
			if infer {
				row[col] = InferValue(rec[j])
			} else {
				row[col] = rec[j]
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func normalizeHeader(header []string) ([]string, error) {
	if len(header) == 0 {
		return nil, errEmptyHeader
	}
	seen := make(map[string]bool, len(header))
	columns := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			return nil, fmt.Errorf("%w (position %d)", errEmptyColumnName, i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: '%s'", errDuplicateColumn, name)
		}
		seen[name] = true
		columns[i] = name
	}
	return columns, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// HasColumn reports whether name is part of the header.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Empty returns a dataset with the same header and no rows.
func (d *Dataset) Empty() *Dataset {
	cols := make([]string, len(d.Columns))
	copy(cols, d.Columns)
	return &Dataset{Columns: cols, Rows: []Row{}}
}

// maxExactInteger bounds the integers a float64 represents without rounding.
const maxExactInteger = 1 << 53

// InferValue converts a raw cell into a typed scalar: blank cells become nil,
// numeric text becomes float64, "true"/"false" become bool, anything else
// stays a string (untrimmed). Numeric text that a float64 would alter, such
// as zero-padded codes ("00501") or integers beyond 2^53, stays a string.
func InferValue(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		// Reject "NaN"/"Inf" spellings; spreadsheets never mean them as numbers.
		lower := strings.ToLower(trimmed)
		if !strings.Contains(lower, "nan") && !strings.Contains(lower, "inf") && !lossyNumber(trimmed, f) {
			return f
		}
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// lossyNumber reports whether converting text to f would drop information.
func lossyNumber(text string, f float64) bool {
	digits := strings.TrimLeft(text, "+-")
	// Zero-padded identifiers: "007", "00501". "0", "0.5" and "0e3" are numbers.
	if len(digits) > 1 && digits[0] == '0' && digits[1] >= '0' && digits[1] <= '9' {
		return true
	}
	if math.Abs(f) >= maxExactInteger && !strings.ContainsAny(digits, ".eE") {
		return true
	}
	return false
}

// Kind is the storage class inferred for a column.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindBool
)

// String returns a readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "text"
	}
}

// ColumnKinds infers a Kind per column. A column is numeric or boolean only
// when every non-nil value has that type; all-nil columns are text.
func (d *Dataset) ColumnKinds() map[string]Kind {
	kinds := make(map[string]Kind, len(d.Columns))
	for _, col := range d.Columns {
		kind, seen := KindText, false
		for _, row := range d.Rows {
			var k Kind
			switch row[col].(type) {
			case nil:
				continue
			case float64, float32, int, int64, int32:
				k = KindNumber
			case bool:
				k = KindBool
			default:
				k = KindText
			}
			if !seen {
				kind, seen = k, true
			} else if kind != k {
				kind = KindText
				break
			}
		}
		kinds[col] = kind
	}
	return kinds
}

// FormatValue renders a scalar the way it would appear in a spreadsheet cell.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
