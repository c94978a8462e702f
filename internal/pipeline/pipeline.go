// Package pipeline runs one fetch, validate, load and notify cycle for a job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sheet-ingest/internal/config"
	"sheet-ingest/internal/dataset"
	"sheet-ingest/internal/fetch"
	"sheet-ingest/internal/load"
	"sheet-ingest/internal/logging"
	"sheet-ingest/internal/notify"
	"sheet-ingest/internal/util"
	"sheet-ingest/internal/validate"

	"github.com/google/uuid"
)

// Job is the complete configuration of one run.
type Job struct {
	Name        string
	Source      config.SourceConfig
	Rules       []config.RuleConfig
	// CustomRules are evaluated after the configured rules.
	CustomRules []validate.Rule
	Destination config.DestinationConfig
	// DSN is the resolved connection string for Destination.
	DSN string
	// Mode overrides Destination.Mode when set.
	Mode load.Mode
	// RunID identifies the run and is the idempotency key for snapshots.
	// A UUID is generated when empty.
	RunID  string
	DryRun bool
	// Sink receives the outcome. Nil disables notification.
	Sink notify.Sink
}

// JobFromConfig builds a Job from one configured entry. The connection string
// is resolved from dsnOverride, the entry and then the environment.
func JobFromConfig(jc *config.JobConfig, dsnOverride string, sink notify.Sink) Job {
	return Job{
		Name:        jc.Name,
		Source:      jc.Source,
		Rules:       jc.Rules,
		Destination: jc.Destination,
		DSN:         config.ResolveDSN(&jc.Destination, dsnOverride),
		Sink:        sink,
	}
}

// Runner executes jobs. The zero value is not usable; use NewRunner.
type Runner struct {
	NewFetcher     func(cfg config.SourceConfig) (fetch.Fetcher, error)
	NewDestination func(ctx context.Context, cfg config.DestinationConfig, dsn string) (load.Destination, error)
	Now            func() time.Time
}

// NewRunner returns a Runner wired to the real fetchers and destinations.
func NewRunner() *Runner {
	return &Runner{
		NewFetcher:     fetch.NewFetcher,
		NewDestination: load.NewDestination,
		Now:            time.Now,
	}
}

// Run executes job with a default Runner.
func Run(ctx context.Context, job Job) (*validate.Report, *load.Result, error) {
	return NewRunner().Run(ctx, job)
}

// Run fetches the source, validates it, loads the accepted rows and notifies
// the sink. The report is returned whenever validation ran, including when
// the load then failed. Sink failures are logged and never fail the run.
func (r *Runner) Run(ctx context.Context, job Job) (*validate.Report, *load.Result, error) {
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	log := logging.WithRun(job.RunID)
	started := time.Now()

	report, result, err := r.run(ctx, job)
	if err != nil {
		log.Logf(logging.Error, "Job '%s' failed after %v: %v", job.Name, time.Since(started).Round(time.Millisecond), err)
	} else {
		log.Logf(logging.Debug, "Job '%s' finished in %v", job.Name, time.Since(started).Round(time.Millisecond))
	}

	if job.Sink != nil {
		ev := notify.Event{RunID: job.RunID, Job: job.Name, DryRun: job.DryRun, Report: report, Result: result, Err: err}
		if sendErr := job.Sink.Send(ctx, ev); sendErr != nil {
			log.Logf(logging.Warning, "Job '%s': notification failed: %v", job.Name, sendErr)
		}
	}
	return report, result, err
}

func (r *Runner) run(ctx context.Context, job Job) (*validate.Report, *load.Result, error) {
	log := logging.WithRun(job.RunID)

	// An explicit mode (--mode) wins over the destination's configured one.
	mode := job.Mode
	if mode == "" {
		parsed, err := load.ParseMode(job.Destination.Mode)
		if err != nil {
			return nil, nil, fmt.Errorf("job '%s': %w", job.Name, err)
		}
		mode = parsed
	}
	// Rules must all build before the source is fetched.
	rules, err := validate.BuildRules(job.Rules)
	if err != nil {
		return nil, nil, fmt.Errorf("job '%s': %w", job.Name, err)
	}
	rules = append(rules, job.CustomRules...)

	// 1. Fetch
	ds, err := r.fetch(ctx, job)
	if err != nil {
		return nil, nil, fmt.Errorf("job '%s': %w", job.Name, err)
	}
	log.Logf(logging.Info, "Fetched %d rows (%d columns) from %s", ds.Len(), len(ds.Columns), util.MaskLocator(job.Source.Locator))

	// 2. Validate
	report := validate.Validate(ds, rules)
	log.Logf(logging.Info, "Validated %d rows with %d rules: %d accepted, %d rejected",
		report.Examined, len(rules), report.Accepted.Len(), len(report.Rejected))

	// 3. Load. A dry run stops here with the report only.
	if job.DryRun {
		log.Logf(logging.Info, "DRY RUN: skipping load. Would write %d rows to '%s' (%s).", report.Accepted.Len(), job.Destination.Table, mode)
		logSample(log, report.Accepted)
		return report, nil, nil
	}
	result, err := r.load(ctx, job, report.Accepted, mode)
	if err != nil {
		// The report survives a failed load.
		return report, nil, fmt.Errorf("job '%s': %w", job.Name, err)
	}
	return report, result, nil
}

func (r *Runner) fetch(ctx context.Context, job Job) (*dataset.Dataset, error) {
	// The fetcher applies job.Source.Timeout itself.
	fetcher, err := r.NewFetcher(job.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}
	ds, err := fetcher.Fetch(ctx, job.Source.Locator)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (r *Runner) load(ctx context.Context, job Job, accepted *dataset.Dataset, mode load.Mode) (*load.Result, error) {
	if job.Destination.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Destination.Timeout)
		defer cancel()
	}
	dest, err := r.NewDestination(ctx, job.Destination, job.DSN)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, load.ErrDestinationUnavailable) {
			return nil, fmt.Errorf("%w: %w", load.ErrDestinationUnavailable, err)
		}
		return nil, err
	}
	defer func() {
		if cerr := dest.Close(); cerr != nil {
			logging.WithRun(job.RunID).Logf(logging.Warning, "Failed to close destination %s: %v", dest.Name(), cerr)
		}
	}()
	target := load.TargetFor(job.Destination, dest)
	return load.Load(ctx, accepted, target, mode, r.Now(), job.RunID)
}

// logSample prints the first accepted rows at Debug with sensitive values masked.
func logSample(log logging.RunLogger, ds *dataset.Dataset) {
	if !logging.Enabled(logging.Debug) {
		return
	}
	n := ds.Len()
	if n > 5 {
		n = 5
	}
	for i := 0; i < n; i++ {
		log.Logf(logging.Debug, "Row %d: %v", i, util.MaskSensitiveData(ds.Rows[i]))
	}
}
