// Package validate applies data-quality rules to a dataset and partitions its
// rows into accepted and rejected sets.
package validate

import (
	"fmt"

	"sheet-ingest/internal/dataset"
)

// Verdict is the outcome of one rule on one row.
type Verdict struct {
	Pass    bool
	Message string
}

// Passed is the verdict for a satisfied rule.
func Passed() Verdict { return Verdict{Pass: true} }

// Failed builds a failing verdict with a formatted message.
func Failed(format string, args ...interface{}) Verdict {
	return Verdict{Pass: false, Message: fmt.Sprintf(format, args...)}
}

// Rule is a named check evaluated independently on each row.
// Evaluate must not keep references to row; it receives a private copy.
type Rule interface {
	Name() string
	Evaluate(row dataset.Row) Verdict
}

// Preparer is implemented by rules that need to see the whole dataset
// before rows are evaluated (uniqueness, for example). Prepare is called
// once per Validate call.
type Preparer interface {
	Prepare(ds *dataset.Dataset)
}

// Failure records one rule failing on one row.
type Failure struct {
	Row     int    `json:"row" msgpack:"row"`
	Rule    string `json:"rule" msgpack:"rule"`
	Message string `json:"message" msgpack:"message"`
}

// Rejection is a rejected row together with every rule it failed, in rule order.
type Rejection struct {
	Row    int         `json:"row" msgpack:"row"`
	Values dataset.Row `json:"values" msgpack:"values"`
	Rules  []string    `json:"rules" msgpack:"rules"`
}

// Report is the result of one Validate call.
type Report struct {
	Examined int
	Failures []Failure
	Accepted *dataset.Dataset
	Rejected []Rejection
}

// FailuresFor returns the failures recorded for the row at index.
func (r *Report) FailuresFor(index int) []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.Row == index {
			out = append(out, f)
		}
	}
	return out
}

// Validate evaluates every rule on every row. A row is accepted only when
// all rules pass; otherwise it is rejected with the full list of failing
// rules. Rule problems (panics, unreadable values) surface as failures,
// so Validate never returns an error. Row indexes are 0-based positions
// in ds.Rows.
func Validate(ds *dataset.Dataset, rules []Rule) *Report {
	report := &Report{
		Failures: []Failure{},
		Rejected: []Rejection{},
	}
	if ds == nil {
		report.Accepted = &dataset.Dataset{Rows: []dataset.Row{}}
		return report
	}
	report.Accepted = ds.Empty()

	for _, rule := range rules {
		if p, ok := rule.(Preparer); ok {
			p.Prepare(ds)
		}
	}

	for i, row := range ds.Rows {
		report.Examined++
		var failed []string
		for _, rule := range rules {
			v := evaluate(rule, row.Clone())
			if v.Pass {
				continue
			}
			msg := v.Message
			if msg == "" {
				msg = "rule failed"
			}
			report.Failures = append(report.Failures, Failure{Row: i, Rule: rule.Name(), Message: msg})
			failed = append(failed, rule.Name())
		}
		if len(failed) == 0 {
			report.Accepted.Rows = append(report.Accepted.Rows, row.Clone())
			continue
		}
		report.Rejected = append(report.Rejected, Rejection{Row: i, Values: row.Clone(), Rules: failed})
	}
	return report
}

// evaluate runs a rule and converts a panic into a failing verdict.
func evaluate(rule Rule, row dataset.Row) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = Failed("rule could not be evaluated: %v", r)
		}
	}()
	return rule.Evaluate(row)
}
