package notify

import (
	"context"

	"sheet-ingest/internal/logging"
)

// LogSink writes a run summary through the leveled logger. Failed runs log at
// Error, runs with rejected rows at Warning and clean runs at Info; each
// failure is listed at Debug.
type LogSink struct{}

func (LogSink) Send(_ context.Context, ev Event) error {
	log := logging.WithRun(ev.RunID)
	s := NewSummary(ev)

	if ev.Err != nil {
		if ev.Report != nil {
			log.Logf(logging.Error, "Job '%s' failed after validation (examined %d, accepted %d, rejected %d): %v",
				ev.Job, s.Examined, s.Accepted, s.Rejected, ev.Err)
		} else {
			log.Logf(logging.Error, "Job '%s' failed: %v", ev.Job, ev.Err)
		}
		return nil
	}

	level := logging.Info
	if s.Rejected > 0 {
		level = logging.Warning
	}
	switch {
	case ev.DryRun:
		log.Logf(level, "Job '%s' validated (dry run): examined %d, accepted %d, rejected %d",
			ev.Job, s.Examined, s.Accepted, s.Rejected)
	case ev.Result != nil && ev.Result.Skipped:
		log.Logf(level, "Job '%s': snapshot for this run already present in '%s', nothing written (examined %d, rejected %d)",
			ev.Job, ev.Result.Table, s.Examined, s.Rejected)
	case ev.Result != nil:
		log.Logf(level, "Job '%s' loaded %d rows into '%s' (%s): examined %d, accepted %d, rejected %d",
			ev.Job, ev.Result.RowsWritten, ev.Result.Table, ev.Result.Mode, s.Examined, s.Accepted, s.Rejected)
	default:
		log.Logf(level, "Job '%s' finished: examined %d, accepted %d, rejected %d", ev.Job, s.Examined, s.Accepted, s.Rejected)
	}

	if ev.Report != nil && logging.Enabled(logging.Debug) {
		for _, f := range ev.Report.Failures {
			log.Logf(logging.Debug, "Job '%s' row %d failed rule '%s': %s", ev.Job, f.Row, f.Rule, f.Message)
		}
	}
	return nil
}
