package config

import (
	"fmt"
	"os"
	"strings"

	"sheet-ingest/internal/util"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads, parses, and validates the YAML configuration file.
// Environment variables are expanded and defaults applied before validation.
func LoadConfig(filename string) (*Config, error) {
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}
	return ParseConfig(fileBytes, filename)
}

// ParseConfig is LoadConfig for in-memory YAML. name is used in error messages.
func ParseConfig(data []byte, name string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in '%s': %w", name, err)
	}

	expandEnv(&cfg)
	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Job returns the job with the given name (case-insensitive).
func (c *Config) Job(name string) (*JobConfig, bool) {
	for i := range c.Jobs {
		if strings.EqualFold(c.Jobs[i].Name, name) {
			return &c.Jobs[i], true
		}
	}
	return nil, false
}

// SinksFor returns the effective sink list for a job.
func (c *Config) SinksFor(job *JobConfig) []SinkConfig {
	if len(job.Notify) > 0 {
		return job.Notify
	}
	return c.Notify
}

// expandEnv resolves $VAR, ${VAR} and %VAR% in every field that names an
// external resource. Rule params are left untouched so expressions keep
// their literal text.
func expandEnv(cfg *Config) {
	for i := range cfg.Notify {
		expandSinkEnv(&cfg.Notify[i])
	}
	for i := range cfg.Jobs {
		job := &cfg.Jobs[i]
		job.Source.Locator = util.ExpandEnvUniversal(job.Source.Locator)
		for k, v := range job.Source.Headers {
			job.Source.Headers[k] = util.ExpandEnvUniversal(v)
		}
		job.Destination.DSN = util.ExpandEnvUniversal(job.Destination.DSN)
		job.Destination.Table = util.ExpandEnvUniversal(job.Destination.Table)
		for j := range job.Notify {
			expandSinkEnv(&job.Notify[j])
		}
	}
}

func expandSinkEnv(s *SinkConfig) {
	s.File = util.ExpandEnvUniversal(s.File)
	s.URL = util.ExpandEnvUniversal(s.URL)
	for k, v := range s.Headers {
		s.Headers[k] = util.ExpandEnvUniversal(v)
	}
}

// applyDefaults sets default values for every section.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	for i := range cfg.Notify {
		applySinkDefaults(&cfg.Notify[i])
	}
	for i := range cfg.Jobs {
		applyJobDefaults(&cfg.Jobs[i])
	}
}

func applyJobDefaults(job *JobConfig) {
	src := &job.Source
	src.Type = strings.ToLower(src.Type)
	if src.Type == SourceTypeCSV && src.Delimiter == "" {
		src.Delimiter = DefaultCSVDelimiter
	}
	if src.InferTypes == nil {
		trueVal := true
		src.InferTypes = &trueVal
	}
	if src.Timeout == 0 {
		src.Timeout = DefaultFetchTimeout
	}

	for i := range job.Rules {
		rule := &job.Rules[i]
		rule.Type = strings.ToLower(rule.Type)
		if rule.Name == "" {
			rule.Name = rule.Type
		}
	}

	dest := &job.Destination
	dest.Type = strings.ToLower(dest.Type)
	dest.Mode = strings.ToLower(dest.Mode)
	if dest.Timeout == 0 {
		dest.Timeout = DefaultLoadTimeout
	}
	if dest.CreateIfMissing == nil {
		trueVal := true
		dest.CreateIfMissing = &trueVal
	}
	if dest.SnapshotColumn == "" {
		dest.SnapshotColumn = DefaultSnapshotColumn
	}
	if dest.RunIDColumn == nil {
		col := DefaultRunIDColumn
		dest.RunIDColumn = &col
	}
	if dest.OnConflict == "" {
		dest.OnConflict = DefaultOnConflict
	}
	dest.OnConflict = strings.ToLower(dest.OnConflict)

	for i := range job.Notify {
		applySinkDefaults(&job.Notify[i])
	}
}

func applySinkDefaults(s *SinkConfig) {
	s.Type = strings.ToLower(s.Type)
	if s.Timeout == 0 {
		s.Timeout = DefaultNotifyTimeout
	}
	if s.Type == SinkTypeWebhook && s.Format == "" {
		s.Format = DefaultWebhookFormat
	}
	s.Format = strings.ToLower(s.Format)
}
