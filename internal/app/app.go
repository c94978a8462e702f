package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"sheet-ingest/internal/config"
	"sheet-ingest/internal/fetch"
	"sheet-ingest/internal/load"
	"sheet-ingest/internal/logging"
	"sheet-ingest/internal/notify"
	"sheet-ingest/internal/pipeline"
	"sheet-ingest/internal/util"
	"sheet-ingest/internal/validate"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Define common application-level errors.
var (
	ErrUsage          = errors.New("usage error")
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrMissingArgs    = errors.New("missing required arguments")
	ErrJobNotFound    = errors.New("job not found")
	ErrRunFailed      = errors.New("one or more jobs failed")
)

// Version is the release string reported by the version command. Set at
// build time with -ldflags "-X sheet-ingest/internal/app.Version=...".
var Version = "dev"

const (
	defaultConfigFile = "config/sheet-ingest.yaml"
	defaultEnvFile    = ".env"
)

// Factory variables, overridden in tests.
var (
	loadConfigFunc     = config.LoadConfig
	loadEnvFileFunc    = config.LoadEnvFile
	newFetcherFunc     = fetch.NewFetcher
	newDestinationFunc = load.NewDestination
	newSinkFunc        = notify.NewSinks
	osStatFunc         = os.Stat
)

// AppRunner encapsulates the application's execution logic.
type AppRunner struct {
	out    io.Writer
	errOut io.Writer
}

// NewAppRunner creates a runner that prints to stdout and stderr.
func NewAppRunner() *AppRunner {
	return &AppRunner{out: os.Stdout, errOut: os.Stderr}
}

// Usage prints the command-line help to writer.
func (a *AppRunner) Usage(writer io.Writer) {
	fmt.Fprint(writer, a.newRootCmd().UsageString())
}

// Run parses args and executes the selected command.
func (a *AppRunner) Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root := a.newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runOptions holds the flags of the run command.
type runOptions struct {
	configFile string
	envFile    string
	jobs       []string
	dryRun     bool
	runID      string
	mode       string
	dsn        string
	logLevel   string
}

func usageErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErr("unexpected argument %q for '%s'", args[0], cmd.CommandPath())
	}
	return nil
}

func (a *AppRunner) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheet-ingest",
		Short: "Fetch spreadsheets, validate their rows and load them into SQL tables",
		Long: `sheet-ingest runs configured jobs. Each job fetches a CSV or XLSX resource
from a URL or file, applies data-quality rules to every row, loads the
accepted rows into a Postgres, SQLite or MySQL table (replace or
append_snapshot) and reports rejected rows to the configured sinks.

Connection strings may come from the job's dsn, --dsn or SHEET_INGEST_DSN.
Any config value naming a resource can reference $VAR, ${VAR} or %VAR%.`,
		Example: `  sheet-ingest run --config jobs.yaml
  sheet-ingest run --config jobs.yaml --job people --dry-run --loglevel debug
  sheet-ingest run --config jobs.yaml --mode append_snapshot --run-id nightly-2024-05-06
  sheet-ingest check --config jobs.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	root.AddCommand(a.newRunCmd(), a.newCheckCmd(), a.newVersionCmd())
	return root
}

func (a *AppRunner) newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured jobs",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJobs(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", defaultConfigFile, "YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", defaultEnvFile, "dotenv file loaded before the config (required only when set explicitly)")
	flags.StringSliceVarP(&opts.jobs, "job", "j", nil, "job to run (repeatable; default all jobs)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "fetch and validate but do not write to the destination")
	flags.StringVar(&opts.runID, "run-id", "", "run identifier and idempotency key (default a new UUID per job)")
	flags.StringVar(&opts.mode, "mode", "", "override the write mode of every selected job (replace, append_snapshot)")
	flags.StringVar(&opts.dsn, "dsn", "", "destination connection string (overrides the config and "+config.DSNEnvVar+")")
	flags.StringVar(&opts.logLevel, "loglevel", config.DefaultLogLevel, "logging level (none, error, warn, info, debug)")
	return cmd
}

func (a *AppRunner) newCheckCmd() *cobra.Command {
	var configFile, envFile string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and list its jobs",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(configFile, envFile, cmd.Flags().Changed("env-file"))
			if err != nil {
				return err
			}
			return a.check(cmd.OutOrStdout(), configFile, cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigFile, "YAML configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before the config")
	return cmd
}

func (a *AppRunner) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sheet-ingest %s\n", Version)
			return err
		},
	}
}

// loadConfig loads the env file, checks the config file exists and loads it.
func (a *AppRunner) loadConfig(configFile, envFile string, envRequired bool) (*config.Config, error) {
	if strings.TrimSpace(configFile) == "" {
		return nil, fmt.Errorf("%w: --config must not be empty", ErrMissingArgs)
	}
	if err := loadEnvFileFunc(envFile, envRequired); err != nil {
		return nil, err
	}
	if _, err := osStatFunc(configFile); err != nil {
		if os.IsNotExist(err) {
			logging.Logf(logging.Error, "Config file '%s' not found.", configFile)
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configFile)
		}
		return nil, fmt.Errorf("failed to stat config file '%s': %w", configFile, err)
	}
	cfg, err := loadConfigFunc(configFile)
	if err != nil {
		logging.Logf(logging.Error, "Error loading/validating config '%s': %v", configFile, err)
		return nil, err
	}
	return cfg, nil
}

// selectJobs returns the named jobs in config order, or all jobs when names is empty.
func selectJobs(cfg *config.Config, names []string) ([]*config.JobConfig, error) {
	if len(names) == 0 {
		jobs := make([]*config.JobConfig, len(cfg.Jobs))
		for i := range cfg.Jobs {
			jobs[i] = &cfg.Jobs[i]
		}
		return jobs, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		jc, ok := cfg.Job(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("%w: '%s'", ErrJobNotFound, name)
		}
		wanted[jc.Name] = true
	}
	var jobs []*config.JobConfig
	for i := range cfg.Jobs {
		if wanted[cfg.Jobs[i].Name] {
			jobs = append(jobs, &cfg.Jobs[i])
		}
	}
	return jobs, nil
}

func (a *AppRunner) runJobs(cmd *cobra.Command, opts *runOptions) error {
	logLevelSet := cmd.Flags().Changed("loglevel")
	if logLevelSet {
		if _, err := logging.ParseLevel(opts.logLevel); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
	}
	logging.SetupLogging(opts.logLevel)

	var modeOverride load.Mode
	if opts.mode != "" {
		m, err := load.ParseMode(opts.mode)
		if err != nil {
			return fmt.Errorf("%w: --mode: %v", ErrUsage, err)
		}
		modeOverride = m
	}

	cfg, err := a.loadConfig(opts.configFile, opts.envFile, cmd.Flags().Changed("env-file"))
	if err != nil {
		return err
	}
	if !logLevelSet && cfg.Logging.Level != "" {
		logging.SetupLogging(cfg.Logging.Level)
	}
	jobs, err := selectJobs(cfg, opts.jobs)
	if err != nil {
		return err
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = config.DefaultConcurrency
	}
	logging.Logf(logging.Info, "Starting %d job(s) from %s (concurrency %d)", len(jobs), opts.configFile, concurrency)
	if opts.dryRun {
		logging.Logf(logging.Info, "DRY RUN: no destination will be written")
	}

	runner := &pipeline.Runner{
		NewFetcher:     newFetcherFunc,
		NewDestination: newDestinationFunc,
		Now:            time.Now,
	}

	var (
		mu       sync.Mutex
		failures []error
	)
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, jc := range jobs {
		jc := jc
		g.Go(func() error {
			err := a.runOne(cmd.Context(), runner, cfg, jc, opts, modeOverride, len(jobs))
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			// Jobs are independent; one failure does not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return fmt.Errorf("%w: %d of %d: %w", ErrRunFailed, len(failures), len(jobs), errors.Join(failures...))
	}
	logging.Logf(logging.Info, "All %d job(s) completed.", len(jobs))
	return nil
}

func (a *AppRunner) runOne(ctx context.Context, runner *pipeline.Runner, cfg *config.Config, jc *config.JobConfig, opts *runOptions, mode load.Mode, total int) error {
	sink, err := newSinkFunc(cfg.SinksFor(jc))
	if err != nil {
		return fmt.Errorf("job '%s': failed to create notification sinks: %w", jc.Name, err)
	}
	job := pipeline.JobFromConfig(jc, opts.dsn, sink)
	job.DryRun = opts.dryRun
	job.Mode = mode
	job.RunID = opts.runID
	if job.RunID != "" && total > 1 {
		// One --run-id across several jobs stays unique per job.
		job.RunID = opts.runID + "/" + jc.Name
	}
	logging.Logf(logging.Debug, "Job '%s': %s %s -> %s %s (%s)", jc.Name,
		jc.Source.Type, util.MaskLocator(jc.Source.Locator), jc.Destination.Type, jc.Destination.Table, jc.Destination.Mode)

	_, _, err = runner.Run(ctx, job)
	return err
}

// check builds every job's rules and fetcher without running them and
// prints one line per job.
func (a *AppRunner) check(w io.Writer, configFile string, cfg *config.Config) error {
	var problems []string
	for i := range cfg.Jobs {
		jc := &cfg.Jobs[i]
		if _, err := validate.BuildRules(jc.Rules); err != nil {
			problems = append(problems, fmt.Sprintf("- job '%s': %v", jc.Name, err))
		}
		if _, err := newFetcherFunc(jc.Source); err != nil {
			problems = append(problems, fmt.Sprintf("- job '%s': %v", jc.Name, err))
		}
		dsn := config.ResolveDSN(&jc.Destination, "")
		dsnNote := ""
		if dsn == "" {
			dsnNote = " [no dsn]"
		}
		fmt.Fprintf(w, "%-20s %-4s %s -> %s %s (%s, %d rules)%s\n",
			jc.Name, jc.Source.Type, util.MaskLocator(jc.Source.Locator),
			jc.Destination.Type, jc.Destination.Table, jc.Destination.Mode, len(jc.Rules), dsnNote)
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration '%s' has problems:\n%s", configFile, strings.Join(problems, "\n"))
	}
	fmt.Fprintf(w, "Configuration '%s' OK: %d job(s)\n", configFile, len(cfg.Jobs))
	return nil
}
