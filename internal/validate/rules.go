package validate

import (
	"fmt"
	"regexp"
	"strconv"

	"sheet-ingest/internal/dataset"
)

// columnRule carries the name and inspected column shared by built-in rules.
type columnRule struct {
	name   string
	column string
}

func (c columnRule) Name() string { return c.name }

// lookup fetches the column value or reports why it cannot.
func (c columnRule) lookup(row dataset.Row) (interface{}, *Verdict) {
	value, ok := row[c.column]
	if !ok {
		v := Failed("column '%s' is not present in the row", c.column)
		return nil, &v
	}
	return value, nil
}

// numberAt fetches the column as a number, failing on blank or non-numeric values.
func (c columnRule) numberAt(row dataset.Row) (float64, *Verdict) {
	value, fail := c.lookup(row)
	if fail != nil {
		return 0, fail
	}
	if isBlank(value) {
		v := Failed("column '%s' is empty, expected a number", c.column)
		return 0, &v
	}
	f, ok := parseValueAsFloat64(value)
	if !ok {
		v := Failed("column '%s' value %s is not a number", c.column, quote(value))
		return 0, &v
	}
	return f, nil
}

func quote(value interface{}) string {
	if s, ok := value.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", value)
}

// --- non_empty ---

type nonEmptyRule struct{ columnRule }

// NonEmpty fails when the column is missing, nil, or whitespace-only.
func NonEmpty(column string) Rule {
	return nonEmptyRule{columnRule{name: "non_empty", column: column}}
}

func (r nonEmptyRule) Evaluate(row dataset.Row) Verdict {
	value, fail := r.lookup(row)
	if fail != nil {
		return *fail
	}
	if isBlank(value) {
		return Failed("column '%s' is empty", r.column)
	}
	return Passed()
}

// --- non_negative ---

type nonNegativeRule struct{ columnRule }

// NonNegative fails unless the column holds a number >= 0.
func NonNegative(column string) Rule {
	return nonNegativeRule{columnRule{name: "non_negative", column: column}}
}

func (r nonNegativeRule) Evaluate(row dataset.Row) Verdict {
	f, fail := r.numberAt(row)
	if fail != nil {
		return *fail
	}
	if f < 0 {
		return Failed("column '%s' value %v is negative", r.column, f)
	}
	return Passed()
}

// --- numeric ---

type numericRule struct{ columnRule }

// Numeric fails unless the column parses as a number.
func Numeric(column string) Rule {
	return numericRule{columnRule{name: "numeric", column: column}}
}

func (r numericRule) Evaluate(row dataset.Row) Verdict {
	if _, fail := r.numberAt(row); fail != nil {
		return *fail
	}
	return Passed()
}

// --- numeric_range ---

type numericRangeRule struct {
	columnRule
	min, max *float64
}

// NumericRange fails unless min <= value <= max. A nil bound is open.
func NumericRange(column string, min, max *float64) Rule {
	return numericRangeRule{columnRule: columnRule{name: "numeric_range", column: column}, min: min, max: max}
}

func (r numericRangeRule) Evaluate(row dataset.Row) Verdict {
	f, fail := r.numberAt(row)
	if fail != nil {
		return *fail
	}
	if r.min != nil && f < *r.min {
		return Failed("column '%s' value %v is less than minimum allowed %v", r.column, f, *r.min)
	}
	if r.max != nil && f > *r.max {
		return Failed("column '%s' value %v is greater than maximum allowed %v", r.column, f, *r.max)
	}
	return Passed()
}

// --- regex ---

type regexRule struct {
	columnRule
	re *regexp.Regexp
}

// Regex fails unless the column's text matches re. Nil values are matched
// as the empty string.
func Regex(column string, re *regexp.Regexp) Rule {
	return regexRule{columnRule: columnRule{name: "regex", column: column}, re: re}
}

func (r regexRule) Evaluate(row dataset.Row) Verdict {
	value, fail := r.lookup(row)
	if fail != nil {
		return *fail
	}
	s := stringify(value)
	if !r.re.MatchString(s) {
		return Failed("column '%s' value %s does not match required pattern '%s'", r.column, strconv.Quote(s), r.re.String())
	}
	return Passed()
}

// --- allowed_values ---

type allowedValuesRule struct {
	columnRule
	values []interface{}
}

// AllowedValues fails unless the column equals one of values.
func AllowedValues(column string, values []interface{}) Rule {
	return allowedValuesRule{columnRule: columnRule{name: "allowed_values", column: column}, values: values}
}

func (r allowedValuesRule) Evaluate(row dataset.Row) Verdict {
	value, fail := r.lookup(row)
	if fail != nil {
		return *fail
	}
	for _, allowed := range r.values {
		if cmp, err := compareValues(value, allowed); err == nil && cmp == 0 {
			return Passed()
		}
	}
	return Failed("column '%s' value %s is not one of the allowed values %v", r.column, quote(value), r.values)
}

// --- max_length ---

type maxLengthRule struct {
	columnRule
	max int
}

// MaxLength fails when the column's text is longer than max characters.
func MaxLength(column string, max int) Rule {
	return maxLengthRule{columnRule: columnRule{name: "max_length", column: column}, max: max}
}

func (r maxLengthRule) Evaluate(row dataset.Row) Verdict {
	value, fail := r.lookup(row)
	if fail != nil {
		return *fail
	}
	if n := runeLen(stringify(value)); n > r.max {
		return Failed("column '%s' has %d characters, maximum is %d", r.column, n, r.max)
	}
	return Passed()
}

// --- unique ---

// uniqueRule counts values during Prepare and fails every row whose value
// appears more than once. Blank values are ignored. State is per Validate
// call, so a uniqueRule must not be shared between concurrent runs.
type uniqueRule struct {
	columnRule
	counts map[string]int
}

// Unique fails rows whose column value is duplicated within the dataset.
func Unique(column string) Rule {
	return &uniqueRule{columnRule: columnRule{name: "unique", column: column}}
}

func (r *uniqueRule) Prepare(ds *dataset.Dataset) {
	r.counts = make(map[string]int, ds.Len())
	for _, row := range ds.Rows {
		if v, ok := row[r.column]; ok && !isBlank(v) {
			r.counts[stringify(v)]++
		}
	}
}

func (r *uniqueRule) Evaluate(row dataset.Row) Verdict {
	value, fail := r.lookup(row)
	if fail != nil {
		return *fail
	}
	if isBlank(value) {
		return Passed()
	}
	if n := r.counts[stringify(value)]; n > 1 {
		return Failed("column '%s' value %s appears %d times", r.column, quote(value), n)
	}
	return Passed()
}

// --- naming ---

type renamedRule struct {
	Rule
	name string
}

func (r renamedRule) Name() string { return r.name }

func (r renamedRule) Prepare(ds *dataset.Dataset) {
	if p, ok := r.Rule.(Preparer); ok {
		p.Prepare(ds)
	}
}

// WithName returns rule reported under name. An empty name keeps the original.
func WithName(rule Rule, name string) Rule {
	if name == "" || name == rule.Name() {
		return rule
	}
	return renamedRule{Rule: rule, name: name}
}

// Func adapts a plain function into a Rule.
func Func(name string, fn func(dataset.Row) Verdict) Rule {
	return funcRule{name: name, fn: fn}
}

type funcRule struct {
	name string
	fn   func(dataset.Row) Verdict
}

func (f funcRule) Name() string                     { return f.name }
func (f funcRule) Evaluate(row dataset.Row) Verdict { return f.fn(row) }
