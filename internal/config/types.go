package config

import "time"

// Define constants for configuration keys, types, modes etc.
const (
	SourceTypeCSV  = "csv"
	SourceTypeXLSX = "xlsx"

	DestinationTypePostgres = "postgres"
	DestinationTypeSQLite   = "sqlite"
	DestinationTypeMySQL    = "mysql"

	ModeReplace        = "replace"         // Atomically overwrite the destination table contents
	ModeAppendSnapshot = "append_snapshot" // Append rows tagged with a capture timestamp

	ConflictWait   = "wait"   // Queue behind another run writing the same table
	ConflictReject = "reject" // Fail immediately if another run holds the table

	SinkTypeLog     = "log"
	SinkTypeCSV     = "csv"
	SinkTypeWebhook = "webhook"

	WebhookFormatJSON    = "json"
	WebhookFormatMsgpack = "msgpack"

	RuleTypeNonEmpty      = "non_empty"
	RuleTypeNonNegative   = "non_negative"
	RuleTypeNumericRange  = "numeric_range"
	RuleTypeRegex         = "regex"
	RuleTypeAllowedValues = "allowed_values"
	RuleTypeNumeric       = "numeric"
	RuleTypeMaxLength     = "max_length"
	RuleTypeExpression    = "expression"
	RuleTypeUnique        = "unique"

	DefaultLogLevel       = "info"
	DefaultConcurrency    = 1
	DefaultCSVDelimiter   = ","
	DefaultFetchTimeout   = 30 * time.Second
	DefaultLoadTimeout    = 60 * time.Second
	DefaultNotifyTimeout  = 10 * time.Second
	DefaultSnapshotColumn = "captured_at"
	DefaultRunIDColumn    = "run_id"
	DefaultOnConflict     = ConflictWait
	DefaultWebhookFormat  = WebhookFormatJSON
)

// Config is the root of the YAML configuration file.
type Config struct {
	// Logging configuration specifies the verbosity level.
	Logging LoggingConfig `yaml:"logging"`
	// Concurrency bounds how many jobs run at the same time. Defaults to 1.
	Concurrency int `yaml:"concurrency,omitempty"`
	// Notify lists the sinks used by every job that does not declare its own.
	Notify []SinkConfig `yaml:"notify,omitempty"`
	// Jobs are the independent locator-to-table pipelines. At least one is required.
	Jobs []JobConfig `yaml:"jobs"`
}

// LoggingConfig holds settings related to logging verbosity.
type LoggingConfig struct {
	// Level is one of "none", "error", "warn", "info", "debug". Defaults to "info".
	Level string `yaml:"level"`
}

// JobConfig is the per-run record binding one source to one destination table.
type JobConfig struct {
	// Name identifies the job on the command line and in notifications. Required, unique.
	Name        string            `yaml:"name"`
	Source      SourceConfig      `yaml:"source"`
	Rules       []RuleConfig      `yaml:"rules,omitempty"`
	Destination DestinationConfig `yaml:"destination"`
	// Notify overrides the top-level sink list for this job when non-empty.
	Notify []SinkConfig `yaml:"notify,omitempty"`
}

// SourceConfig details where and how the tabular resource is fetched.
type SourceConfig struct {
	// Type is the resource format: "csv" or "xlsx". Required.
	Type string `yaml:"type"`
	// Locator is an http(s) URL, a file:// URL or a filesystem path. Required.
	// Environment variables are expanded.
	Locator string `yaml:"locator"`
	// CSV delimiter character (default ","). Use '\t' for tab.
	Delimiter string `yaml:"delimiter,omitempty"`
	// CSV comment character. Lines starting with it are ignored. Disabled by default.
	CommentChar string `yaml:"commentChar,omitempty"`
	// XLSX sheet name. Takes precedence over SheetIndex.
	SheetName string `yaml:"sheetName,omitempty"`
	// XLSX sheet index (0-based). Defaults to the first sheet.
	SheetIndex *int `yaml:"sheetIndex,omitempty"`
	// InferTypes converts numeric and boolean cells to typed values. Defaults to true.
	InferTypes *bool `yaml:"inferTypes,omitempty"`
	// Timeout bounds the whole fetch, e.g. "30s".
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Headers are sent with HTTP requests (e.g. Authorization). Values are env-expanded.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// RuleConfig declares one validation rule.
type RuleConfig struct {
	// Name appears in reports. Defaults to Type.
	Name string `yaml:"name,omitempty"`
	// Type selects the rule implementation (non_empty, numeric_range, expression, ...). Required.
	Type string `yaml:"type"`
	// Column is the field the rule inspects. Required for every type except expression.
	Column string `yaml:"column,omitempty"`
	// Params holds type-specific settings (min, max, pattern, values, expression).
	Params map[string]interface{} `yaml:"params,omitempty"`
}

// DestinationConfig details the warehouse table receiving accepted rows.
type DestinationConfig struct {
	// Type is "postgres", "sqlite" or "mysql". Required.
	Type string `yaml:"type"`
	// DSN is the connection string. Falls back to the --dsn flag or SHEET_INGEST_DSN.
	DSN string `yaml:"dsn,omitempty"`
	// Table is the destination table, optionally schema-qualified for postgres. Required.
	Table string `yaml:"table"`
	// Mode is "replace" or "append_snapshot". Required.
	Mode string `yaml:"mode"`
	// Timeout bounds the whole load, e.g. "60s".
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// CreateIfMissing creates the table from the data's columns when absent. Defaults to true.
	CreateIfMissing *bool `yaml:"createIfMissing,omitempty"`
	// SnapshotColumn receives the capture timestamp in append_snapshot mode. Defaults to "captured_at".
	SnapshotColumn string `yaml:"snapshotColumn,omitempty"`
	// RunIDColumn receives the run identifier in append_snapshot mode and makes retries
	// idempotent. Defaults to "run_id"; set to "" to disable.
	RunIDColumn *string `yaml:"runIDColumn,omitempty"`
	// OnConflict is "wait" (default) or "reject" when another run is writing the same table.
	OnConflict string `yaml:"onConflict,omitempty"`
}

// SinkConfig declares one notification sink.
type SinkConfig struct {
	// Type is "log", "csv" or "webhook". Required.
	Type string `yaml:"type"`
	// File is the rejected-rows CSV path for type "csv". Environment variables are expanded.
	File string `yaml:"file,omitempty"`
	// URL is the webhook endpoint for type "webhook".
	URL string `yaml:"url,omitempty"`
	// Format is the webhook payload encoding: "json" (default) or "msgpack".
	Format string `yaml:"format,omitempty"`
	// Timeout bounds a single delivery. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Headers are sent with webhook requests. Values are env-expanded.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// BoolValue dereferences an optional flag, returning def when unset.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// StringValue dereferences an optional string, returning def when unset.
func StringValue(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
