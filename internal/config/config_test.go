package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"sheet-ingest/internal/logging"
)

// --- Test Helper Functions ---

// createTempConfigFile writes content to a temporary YAML file and returns its path.
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tempFile, err := os.CreateTemp(t.TempDir(), "test-config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		t.Fatalf("Failed to write to temp config file: %v", err)
	}
	if err := tempFile.Close(); err != nil {
		t.Fatalf("Failed to close temp config file: %v", err)
	}
	return tempFile.Name()
}

// assertValidationError checks if the error contains all expected substrings.
func assertValidationError(t *testing.T, err error, expectedSubstrings ...string) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected a validation error, but got nil")
		return
	}
	errStr := err.Error()
	for _, sub := range expectedSubstrings {
		if !strings.Contains(errStr, sub) {
			t.Errorf("Validation error missing expected substring %q.\nError was: %q", sub, errStr)
		}
	}
}

// quietLogs silences validation warnings for the duration of a test.
func quietLogs(t *testing.T) {
	t.Helper()
	orig := logging.GetLevel()
	logging.SetLevel(logging.None)
	t.Cleanup(func() { logging.SetLevel(orig) })
}

const minimalJobYAML = `
jobs:
  - name: people
    source:
      type: csv
      locator: https://example.com/people.csv
    destination:
      type: postgres
      table: public.people
      mode: replace
`

// --- LoadConfig Tests ---

func TestLoadConfig_Success(t *testing.T) {
	quietLogs(t)
	validYAML := `
logging:
  level: debug
concurrency: 3
notify:
  - type: log
  - type: webhook
    url: https://hooks.example.com/ingest
    format: MSGPACK
    timeout: 2s
jobs:
  - name: people
    source:
      type: CSV
      locator: https://example.com/people.csv
      delimiter: ';'
      commentChar: '#'
      timeout: 5s
      headers:
        Accept: text/csv
    rules:
      - type: non_empty
        column: name
      - name: age_ok
        type: numeric_range
        column: age
        params: {min: 0, max: 150}
      - type: allowed_values
        column: status
        params:
          values: [active, inactive]
    destination:
      type: sqlite
      dsn: file:people.db
      table: people
      mode: replace
      createIfMissing: false
  - name: prices
    source:
      type: xlsx
      locator: ./prices.xlsx
      sheetName: Prices
    destination:
      type: mysql
      table: prices
      mode: APPEND_SNAPSHOT
      snapshotColumn: taken_at
      runIDColumn: ""
      onConflict: reject
    notify:
      - type: csv
        file: out/rejected.csv
`
	path := createTempConfigFile(t, validYAML)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Concurrency != 3 {
		t.Errorf("Logging/Concurrency = %q/%d, want debug/3", cfg.Logging.Level, cfg.Concurrency)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("len(Jobs) = %d, want 2", len(cfg.Jobs))
	}

	people := cfg.Jobs[0]
	if people.Source.Type != SourceTypeCSV {
		t.Errorf("Source.Type = %q, want lowercased 'csv'", people.Source.Type)
	}
	if people.Source.Delimiter != ";" || people.Source.CommentChar != "#" {
		t.Errorf("Delimiter/CommentChar = %q/%q", people.Source.Delimiter, people.Source.CommentChar)
	}
	if people.Source.Timeout != 5*time.Second {
		t.Errorf("Source.Timeout = %v, want 5s", people.Source.Timeout)
	}
	if people.Source.Headers["Accept"] != "text/csv" {
		t.Errorf("Source.Headers = %v", people.Source.Headers)
	}
	wantRuleNames := []string{"non_empty", "age_ok", "allowed_values"}
	var gotRuleNames []string
	for _, r := range people.Rules {
		gotRuleNames = append(gotRuleNames, r.Name)
	}
	if !reflect.DeepEqual(gotRuleNames, wantRuleNames) {
		t.Errorf("rule names = %v, want %v", gotRuleNames, wantRuleNames)
	}
	if BoolValue(people.Destination.CreateIfMissing, true) {
		t.Errorf("CreateIfMissing should stay false when set explicitly")
	}

	prices := cfg.Jobs[1]
	if prices.Destination.Mode != ModeAppendSnapshot {
		t.Errorf("Mode = %q, want %q", prices.Destination.Mode, ModeAppendSnapshot)
	}
	if prices.Destination.SnapshotColumn != "taken_at" {
		t.Errorf("SnapshotColumn = %q, want taken_at", prices.Destination.SnapshotColumn)
	}
	if prices.Destination.RunIDColumn == nil || *prices.Destination.RunIDColumn != "" {
		t.Errorf("RunIDColumn = %v, want explicit empty string", prices.Destination.RunIDColumn)
	}
	if prices.Destination.OnConflict != ConflictReject {
		t.Errorf("OnConflict = %q, want reject", prices.Destination.OnConflict)
	}
	if prices.Source.Delimiter != "" {
		t.Errorf("xlsx source should not receive a default delimiter, got %q", prices.Source.Delimiter)
	}

	if got := cfg.Notify[1].Format; got != WebhookFormatMsgpack {
		t.Errorf("Notify[1].Format = %q, want msgpack", got)
	}
	if got := cfg.Notify[1].Timeout; got != 2*time.Second {
		t.Errorf("Notify[1].Timeout = %v, want 2s", got)
	}
	if got := cfg.SinksFor(&cfg.Jobs[0]); len(got) != 2 || got[0].Type != SinkTypeLog {
		t.Errorf("SinksFor(people) = %+v, want the top-level list", got)
	}
	if got := cfg.SinksFor(&cfg.Jobs[1]); len(got) != 1 || got[0].File != "out/rejected.csv" {
		t.Errorf("SinksFor(prices) = %+v, want the job override", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	quietLogs(t)
	cfg, err := ParseConfig([]byte(minimalJobYAML+`
    notify:
      - type: webhook
        url: https://hooks.example.com/x
`), "inline")
	if err != nil {
		t.Fatalf("ParseConfig() unexpected error: %v", err)
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, DefaultLogLevel)
	}
	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, DefaultConcurrency)
	}

	job := cfg.Jobs[0]
	src, dest := job.Source, job.Destination
	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"Source.Delimiter", src.Delimiter, DefaultCSVDelimiter},
		{"Source.InferTypes", BoolValue(src.InferTypes, false), true},
		{"Source.Timeout", src.Timeout, DefaultFetchTimeout},
		{"Destination.Timeout", dest.Timeout, DefaultLoadTimeout},
		{"Destination.CreateIfMissing", BoolValue(dest.CreateIfMissing, false), true},
		{"Destination.SnapshotColumn", dest.SnapshotColumn, DefaultSnapshotColumn},
		{"Destination.RunIDColumn", StringValue(dest.RunIDColumn, "unset"), DefaultRunIDColumn},
		{"Destination.OnConflict", dest.OnConflict, DefaultOnConflict},
		{"Notify.Format", job.Notify[0].Format, DefaultWebhookFormat},
		{"Notify.Timeout", job.Notify[0].Timeout, DefaultNotifyTimeout},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	quietLogs(t)
	t.Setenv("SHEET_HOST", "data.example.com")
	t.Setenv("SHEET_TOKEN", "s3cret")
	t.Setenv("WAREHOUSE_DSN", "postgres://u:p@db/warehouse")
	t.Setenv("HOOK_URL", "https://hooks.example.com/abc")

	yamlContent := `
jobs:
  - name: people
    source:
      type: csv
      locator: https://${SHEET_HOST}/people.csv
      headers:
        Authorization: Bearer $SHEET_TOKEN
    rules:
      - type: expression
        params:
          expression: "[age] >= 0"
    destination:
      type: postgres
      dsn: ${WAREHOUSE_DSN}
      table: people
      mode: replace
    notify:
      - type: webhook
        url: ${HOOK_URL}
        headers:
          X-Token: ${SHEET_TOKEN}
`
	cfg, err := ParseConfig([]byte(yamlContent), "inline")
	if err != nil {
		t.Fatalf("ParseConfig() unexpected error: %v", err)
	}
	job := cfg.Jobs[0]
	if job.Source.Locator != "https://data.example.com/people.csv" {
		t.Errorf("Locator = %q", job.Source.Locator)
	}
	if job.Source.Headers["Authorization"] != "Bearer s3cret" {
		t.Errorf("Authorization header = %q", job.Source.Headers["Authorization"])
	}
	if job.Destination.DSN != "postgres://u:p@db/warehouse" {
		t.Errorf("DSN = %q", job.Destination.DSN)
	}
	if job.Notify[0].URL != "https://hooks.example.com/abc" || job.Notify[0].Headers["X-Token"] != "s3cret" {
		t.Errorf("Notify = %+v", job.Notify[0])
	}
	if got := job.Rules[0].Params["expression"]; got != "[age] >= 0" {
		t.Errorf("expression param should be left verbatim, got %v", got)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("LoadConfig() expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("error = %q, want read failure", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error should wrap fs.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tests := map[string]string{
		"syntax":           "jobs:\n  - name: [unclosed\n",
		"unitless timeout": strings.Replace(minimalJobYAML, "      mode: replace\n", "      mode: replace\n      timeout: 60\n", 1),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(createTempConfigFile(t, content))
			if err == nil {
				t.Fatal("LoadConfig() expected YAML error, got nil")
			}
			if !strings.Contains(err.Error(), "failed to parse YAML") {
				t.Errorf("error = %q, want parse failure", err)
			}
		})
	}
}

// --- ValidateConfig Tests ---

func TestValidateConfig_InvalidCases(t *testing.T) {
	quietLogs(t)
	testCases := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "no jobs",
			yaml: "logging:\n  level: info\n",
			want: []string{"configuration validation failed:", "- Config.Jobs: at least one job is required"},
		},
		{
			name: "invalid log level and concurrency",
			yaml: "logging:\n  level: loud\nconcurrency: -2\n" + minimalJobYAML,
			want: []string{"Config.Logging.Level: invalid log level 'loud'", "Config.Concurrency: must be at least 1, got -2"},
		},
		{
			name: "missing required job fields",
			yaml: `
jobs:
  - source: {}
    destination: {}
`,
			want: []string{
				"- Config.Jobs[0].Name: is required",
				"- Config.Jobs[0].Source.Type: is required",
				"- Config.Jobs[0].Source.Locator: is required",
				"- Config.Jobs[0].Destination.Type: is required",
				"- Config.Jobs[0].Destination.Table: is required",
				"- Config.Jobs[0].Destination.Mode: is required",
			},
		},
		{
			name: "duplicate job names are case-insensitive",
			yaml: minimalJobYAML + `
  - name: PEOPLE
    source: {type: csv, locator: ./people.csv}
    destination: {type: postgres, table: people, mode: replace}
`,
			want: []string{"Config.Jobs[1].Name: duplicate job name 'PEOPLE'"},
		},
		{
			name: "unsupported source and destination types",
			yaml: `
jobs:
  - name: j
    source: {type: json, locator: ./x.json}
    destination: {type: oracle, table: t, mode: upsert}
`,
			want: []string{
				"Source.Type: invalid source type 'json'",
				"Destination.Type: invalid destination type 'oracle'",
				"Destination.Mode: invalid write mode 'upsert'",
			},
		},
		{
			name: "bad locator scheme",
			yaml: `
jobs:
  - name: j
    source: {type: csv, locator: "ftp://example.com/x.csv"}
    destination: {type: postgres, table: t, mode: replace}
`,
			want: []string{"Source.Locator: unsupported scheme 'ftp'"},
		},
		{
			name: "negative timeouts",
			yaml: `
jobs:
  - name: j
    source: {type: csv, locator: ./x.csv, timeout: -5s}
    destination: {type: postgres, table: t, mode: replace, timeout: -1m}
`,
			want: []string{"Source.Timeout: must be at least 1ms", "Destination.Timeout: must be at least 1ms"},
		},
		{
			name: "csv delimiter problems",
			yaml: `
jobs:
  - name: j
    source: {type: csv, locator: ./x.csv, delimiter: "||", commentChar: "|"}
    destination: {type: postgres, table: t, mode: replace}
`,
			want: []string{`Source.Delimiter: "||" must be a single character`},
		},
		{
			name: "comment char equals delimiter",
			yaml: `
jobs:
  - name: j
    source: {type: csv, locator: ./x.csv, delimiter: ";", commentChar: ";"}
    destination: {type: postgres, table: t, mode: replace}
`,
			want: []string{"Source.CommentChar: cannot equal the delimiter"},
		},
		{
			name: "xlsx sheet problems",
			yaml: `
jobs:
  - name: j
    source: {type: xlsx, locator: ./x.xlsx, sheetName: "bad/name", sheetIndex: -1}
    destination: {type: postgres, table: t, mode: replace}
`,
			want: []string{"Source.SheetName: 'bad/name' contains invalid characters", "Source.SheetIndex: cannot be negative"},
		},
		{
			name: "table identifiers",
			yaml: `
jobs:
  - name: a
    source: {type: csv, locator: ./a.csv}
    destination: {type: postgres, table: "drop table;", mode: replace}
  - name: b
    source: {type: csv, locator: ./b.csv}
    destination: {type: sqlite, table: main.people, mode: replace}
`,
			want: []string{
				"Config.Jobs[0].Destination.Table: 'drop table;' is not a valid table identifier",
				"Config.Jobs[1].Destination.Table: schema-qualified names are not supported for sqlite",
			},
		},
		{
			name: "snapshot columns",
			yaml: `
jobs:
  - name: j
    source: {type: csv, locator: ./x.csv}
    destination:
      type: postgres
      table: t
      mode: append_snapshot
      snapshotColumn: Stamp
      runIDColumn: stamp
      onConflict: skip
`,
			want: []string{"Destination.RunIDColumn: must differ from SnapshotColumn", "Destination.OnConflict: invalid policy 'skip'"},
		},
		{
			name: "rule problems",
			yaml: `
jobs:
  - name: j
    source: {type: csv, locator: ./x.csv}
    destination: {type: postgres, table: t, mode: replace}
    rules:
      - column: a
      - type: checksum
        column: a
      - type: non_empty
      - type: numeric_range
        column: a
        params: {min: 10, max: 1}
      - type: numeric_range
        column: a
      - type: regex
        column: a
        params: {pattern: "("}
      - type: allowed_values
        column: a
        params: {values: []}
      - type: max_length
        column: a
        params: {max: 2.5}
      - type: expression
        params: {expression: "[a] >"}
      - type: unique
        name: dup
        column: a
      - type: numeric
        name: dup
        column: a
`,
			want: []string{
				"Rules[0].Type: is required",
				"Rules[1].Type: unknown rule type 'checksum'",
				"Rules[2].Column: is required for rule type 'non_empty'",
				"Rules[3].Params: 'min' value (10) cannot be greater than 'max' value (1)",
				"Rules[4].Params: requires at least 'min' or 'max'",
				"Rules[5].Params: invalid regex pattern",
				"Rules[6].Params: parameter 'values' must be a non-empty list",
				"Rules[7].Params: parameter 'max' must be a non-negative integer",
				"Rules[8].Params: invalid expression syntax",
				"Rules[10].Name: duplicate rule name 'dup'",
			},
		},
		{
			name: "sink problems",
			yaml: `
notify:
  - type: pager
  - type: csv
  - type: webhook
    url: "ftp://hooks.example.com"
    format: xml
` + minimalJobYAML + `
    notify:
      - type: csv
        file: out/
      - {}
`,
			want: []string{
				"Config.Notify[0].Type: invalid sink type 'pager'",
				"Config.Notify[1].File: is required for sink type 'csv'",
				"Config.Notify[2].URL: 'ftp://hooks.example.com' must be an http(s) URL",
				"Config.Notify[2].Format: invalid format 'xml'",
				"Config.Jobs[0].Notify[0].File: path 'out/' appears to be a directory",
				"Config.Jobs[0].Notify[1].Type: is required",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.yaml), "inline")
			assertValidationError(t, err, tc.want...)
		})
	}
}

func TestValidateConfig_ValidCases(t *testing.T) {
	quietLogs(t)
	testCases := []struct {
		name string
		yaml string
	}{
		{"minimal", minimalJobYAML},
		{"file locator", `
jobs:
  - name: j
    source: {type: csv, locator: "file:///data/x.csv", delimiter: "\t"}
    destination: {type: sqlite, table: x, mode: append_snapshot}
`},
		{"xlsx with index", `
jobs:
  - name: j
    source: {type: xlsx, locator: "https://example.com/x.xlsx", sheetIndex: 2}
    destination: {type: mysql, table: x, mode: replace, onConflict: REJECT}
`},
		{"numeric range with only max as string", `
jobs:
  - name: j
    source: {type: csv, locator: ./x.csv}
    destination: {type: postgres, table: x, mode: replace}
    rules:
      - type: numeric_range
        column: price
        params: {max: "99.5"}
      - type: max_length
        column: code
        params: {max: 8}
      - type: expression
        name: price_positive
        params: {expression: "[price] > 0"}
`},
		{"log sink ignores extra fields", minimalJobYAML + `
    notify:
      - type: log
        file: ignored.csv
`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tc.yaml), "inline"); err != nil {
				t.Errorf("ParseConfig() unexpected error: %v", err)
			}
		})
	}
}

// --- Accessor and environment tests ---

func TestConfig_Job(t *testing.T) {
	cfg := &Config{Jobs: []JobConfig{{Name: "People"}, {Name: "orders"}}}
	tests := []struct {
		query  string
		want   string
		wantOK bool
	}{
		{"people", "People", true},
		{"ORDERS", "orders", true},
		{"missing", "", false},
	}
	for _, tt := range tests {
		got, ok := cfg.Job(tt.query)
		if ok != tt.wantOK {
			t.Errorf("Job(%q) ok = %v, want %v", tt.query, ok, tt.wantOK)
			continue
		}
		if ok && got.Name != tt.want {
			t.Errorf("Job(%q) = %q, want %q", tt.query, got.Name, tt.want)
		}
	}
	job, _ := cfg.Job("people")
	job.Name = "renamed"
	if cfg.Jobs[0].Name != "renamed" {
		t.Errorf("Job() should return a pointer into Jobs")
	}
}

func TestResolveDSN(t *testing.T) {
	tests := []struct {
		name     string
		override string
		config   string
		env      string
		want     string
	}{
		{"override wins", "flag-dsn", "config-dsn", "env-dsn", "flag-dsn"},
		{"config before env", "", "config-dsn", "env-dsn", "config-dsn"},
		{"env fallback", "", "", "env-dsn", "env-dsn"},
		{"nothing set", "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(DSNEnvVar, tt.env)
			dest := &DestinationConfig{DSN: tt.config}
			if got := ResolveDSN(dest, tt.override); got != tt.want {
				t.Errorf("ResolveDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "SHEET_INGEST_TEST_NEW=from-file\nSHEET_INGEST_TEST_KEEP=from-file\n"
	if err := os.WriteFile(envPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	t.Setenv("SHEET_INGEST_TEST_NEW", "")
	os.Unsetenv("SHEET_INGEST_TEST_NEW")
	t.Setenv("SHEET_INGEST_TEST_KEEP", "from-process")

	if err := LoadEnvFile(envPath, true); err != nil {
		t.Fatalf("LoadEnvFile() unexpected error: %v", err)
	}
	if got := os.Getenv("SHEET_INGEST_TEST_NEW"); got != "from-file" {
		t.Errorf("SHEET_INGEST_TEST_NEW = %q, want from-file", got)
	}
	if got := os.Getenv("SHEET_INGEST_TEST_KEEP"); got != "from-process" {
		t.Errorf("existing variables must not be overridden, got %q", got)
	}

	missing := filepath.Join(dir, "missing.env")
	if err := LoadEnvFile(missing, false); err != nil {
		t.Errorf("LoadEnvFile(optional missing) unexpected error: %v", err)
	}
	if err := LoadEnvFile(missing, true); err == nil || !strings.Contains(err.Error(), "failed to load env file") {
		t.Errorf("LoadEnvFile(required missing) error = %v, want load failure", err)
	}
	if err := LoadEnvFile("", true); err != nil {
		t.Errorf("LoadEnvFile(\"\") unexpected error: %v", err)
	}
}

// --- Helper function tests ---

func TestIsValidEnumValue(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"replace", true},
		{"APPEND_SNAPSHOT", true},
		{"upsert", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isValidEnumValue(tt.value, knownModes); got != tt.want {
			t.Errorf("isValidEnumValue(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestValidateSingleRuneString(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		allowEmpty bool
		wantErr    bool
	}{
		{"single ascii", ",", false, false},
		{"tab", "\t", false, false},
		{"multibyte rune", "§", false, false},
		{"empty not allowed", "", false, true},
		{"empty allowed", "", true, false},
		{"two runes", ",,", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSingleRuneString(tt.input, "Field", tt.allowEmpty)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSingleRuneString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSheetName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"Sheet1", false},
		{"Q1 Prices", false},
		{strings.Repeat("x", 32), true},
		{"a[1]", true},
		{"'quoted'", true},
	}
	for _, tt := range tests {
		if err := validateSheetName(tt.name, "SheetName"); (err != nil) != tt.wantErr {
			t.Errorf("validateSheetName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestParseParamAsNumber(t *testing.T) {
	tests := []struct {
		in     interface{}
		want   float64
		wantOK bool
	}{
		{10, 10, true},
		{int64(-3), -3, true},
		{uint64(7), 7, true},
		{2.5, 2.5, true},
		{" 4.25 ", 4.25, true},
		{"abc", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseParamAsNumber(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseParamAsNumber(%#v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseParamAsInt(t *testing.T) {
	tests := []struct {
		in     interface{}
		want   int
		wantOK bool
	}{
		{12, 12, true},
		{3.0, 3, true},
		{"40", 40, true},
		{3.5, 0, false},
		{"x", 0, false},
		{float64(1 << 40), 0, false},
	}
	for _, tt := range tests {
		got, ok := parseParamAsInt(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseParamAsInt(%#v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
