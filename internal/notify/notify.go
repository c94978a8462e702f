// Package notify delivers run outcomes to notification sinks: the log, a
// rejected-rows CSV file, or an HTTP webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sheet-ingest/internal/config"
	"sheet-ingest/internal/load"
	"sheet-ingest/internal/logging"
	"sheet-ingest/internal/validate"
)

// Event is the outcome of one pipeline run. Report is nil when the run failed
// before validation; Result is nil when nothing was loaded.
type Event struct {
	RunID  string
	Job    string
	DryRun bool
	Report *validate.Report
	Result *load.Result
	Err    error
}

// Sink receives run events.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Status is a one-word outcome for summaries.
func (ev Event) Status() string {
	switch {
	case ev.Err != nil:
		return "failed"
	case ev.DryRun:
		return "validated"
	case ev.Result != nil && ev.Result.Skipped:
		return "skipped"
	default:
		return "succeeded"
	}
}

// Summary is the serialized form of an Event used by webhooks.
type Summary struct {
	RunID     string             `json:"runID" msgpack:"runID"`
	Job       string             `json:"job" msgpack:"job"`
	Status    string             `json:"status" msgpack:"status"`
	DryRun    bool               `json:"dryRun,omitempty" msgpack:"dryRun,omitempty"`
	Examined  int                `json:"examined" msgpack:"examined"`
	Accepted  int                `json:"accepted" msgpack:"accepted"`
	Rejected  int                `json:"rejected" msgpack:"rejected"`
	Failures  []validate.Failure `json:"failures,omitempty" msgpack:"failures,omitempty"`
	Truncated bool               `json:"failuresTruncated,omitempty" msgpack:"failuresTruncated,omitempty"`
	Result    *load.Result       `json:"result,omitempty" msgpack:"result,omitempty"`
	Error     string             `json:"error,omitempty" msgpack:"error,omitempty"`
}

// maxSummaryFailures caps the failures carried in a Summary.
const maxSummaryFailures = 100

// NewSummary flattens ev.
func NewSummary(ev Event) Summary {
	s := Summary{
		RunID:  ev.RunID,
		Job:    ev.Job,
		Status: ev.Status(),
		DryRun: ev.DryRun,
		Result: ev.Result,
	}
	if ev.Report != nil {
		s.Examined = ev.Report.Examined
		s.Rejected = len(ev.Report.Rejected)
		if ev.Report.Accepted != nil {
			s.Accepted = ev.Report.Accepted.Len()
		}
		s.Failures = ev.Report.Failures
		if len(s.Failures) > maxSummaryFailures {
			s.Failures = s.Failures[:maxSummaryFailures]
			s.Truncated = true
		}
	}
	if ev.Err != nil {
		s.Error = ev.Err.Error()
	}
	return s
}

// newSinkFunc allows overriding sink construction for testing.
var newSinkFunc = NewSink

// NewSink builds one sink from its configuration.
func NewSink(cfg config.SinkConfig) (Sink, error) {
	switch strings.ToLower(cfg.Type) {
	case config.SinkTypeLog:
		return LogSink{}, nil
	case config.SinkTypeCSV:
		return NewCSVSink(cfg.File)
	case config.SinkTypeWebhook:
		return NewWebhookSink(cfg)
	default:
		return nil, fmt.Errorf("unsupported sink type: '%s'", cfg.Type)
	}
}

// NewSinks builds every configured sink and combines them. An empty list
// yields a log sink.
func NewSinks(cfgs []config.SinkConfig) (Sink, error) {
	if len(cfgs) == 0 {
		return LogSink{}, nil
	}
	sinks := make(Multi, 0, len(cfgs))
	for i, cfg := range cfgs {
		s, err := newSinkFunc(cfg)
		if err != nil {
			return nil, fmt.Errorf("sink %d (%s): %w", i, cfg.Type, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// Multi sends every event to each sink in order. A failing sink does not
// stop delivery to the rest; the failures are joined.
type Multi []Sink

func (m Multi) Send(ctx context.Context, ev Event) error {
	var errs []error
	for i, s := range m {
		if err := s.Send(ctx, ev); err != nil {
			logging.WithRun(ev.RunID).Logf(logging.Warning, "Notification sink %d (%T) failed: %v", i, s, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
