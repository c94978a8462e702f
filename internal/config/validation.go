package config

import (
	"fmt"
	"math"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"sheet-ingest/internal/logging"

	"github.com/Knetic/govaluate"
)

// Define known valid enum values for configuration fields.
var (
	knownLogLevels        = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownSourceTypes      = []string{SourceTypeCSV, SourceTypeXLSX}
	knownDestinationTypes = []string{DestinationTypePostgres, DestinationTypeSQLite, DestinationTypeMySQL}
	knownModes            = []string{ModeReplace, ModeAppendSnapshot}
	knownConflictPolicies = []string{ConflictWait, ConflictReject}
	knownSinkTypes        = []string{SinkTypeLog, SinkTypeCSV, SinkTypeWebhook}
	knownWebhookFormats   = []string{WebhookFormatJSON, WebhookFormatMsgpack}
	knownRuleTypes        = []string{
		RuleTypeNonEmpty, RuleTypeNonNegative, RuleTypeNumericRange, RuleTypeRegex,
		RuleTypeAllowedValues, RuleTypeNumeric, RuleTypeMaxLength, RuleTypeExpression,
		RuleTypeUnique,
	}
)

// identifierRegex restricts table and column names to what every supported
// warehouse accepts unquoted, plus an optional schema qualifier.
var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

const minTimeout = time.Millisecond

// isValidEnumValue checks if a value is present in a list of allowed string values (case-insensitive).
func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the entire configuration.
// All problems are reported together, one per line.
func ValidateConfig(cfg *Config) error {
	var allErrors []string

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Level: invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}
	if cfg.Concurrency < 1 {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Concurrency: must be at least 1, got %d", cfg.Concurrency))
	}
	for i := range cfg.Notify {
		allErrors = append(allErrors, validateSinkConfig(fmt.Sprintf("Config.Notify[%d]", i), &cfg.Notify[i])...)
	}

	if len(cfg.Jobs) == 0 {
		allErrors = append(allErrors, "- Config.Jobs: at least one job is required")
	}
	jobNames := make(map[string]bool, len(cfg.Jobs))
	for i := range cfg.Jobs {
		job := &cfg.Jobs[i]
		prefix := fmt.Sprintf("Config.Jobs[%d]", i)
		if job.Name == "" {
			allErrors = append(allErrors, fmt.Sprintf("- %s.Name: is required", prefix))
		} else if jobNames[strings.ToLower(job.Name)] {
			allErrors = append(allErrors, fmt.Sprintf("- %s.Name: duplicate job name '%s'", prefix, job.Name))
		}
		jobNames[strings.ToLower(job.Name)] = true

		allErrors = append(allErrors, validateSourceConfig(prefix+".Source", &job.Source)...)
		allErrors = append(allErrors, validateDestinationConfig(prefix+".Destination", &job.Destination)...)

		ruleNames := make(map[string]bool, len(job.Rules))
		for j := range job.Rules {
			rulePrefix := fmt.Sprintf("%s.Rules[%d]", prefix, j)
			allErrors = append(allErrors, validateRuleConfig(rulePrefix, &job.Rules[j])...)
			if name := job.Rules[j].Name; name != "" {
				if ruleNames[name] {
					allErrors = append(allErrors, fmt.Sprintf("- %s.Name: duplicate rule name '%s'", rulePrefix, name))
				}
				ruleNames[name] = true
			}
		}
		for j := range job.Notify {
			allErrors = append(allErrors, validateSinkConfig(fmt.Sprintf("%s.Notify[%d]", prefix, j), &job.Notify[j])...)
		}
	}

	if len(allErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(allErrors, "\n"))
	}
	logging.Logf(logging.Debug, "Configuration validation successful.")
	return nil
}

// validateSourceConfig validates one job's Source section.
func validateSourceConfig(prefix string, cfg *SourceConfig) []string {
	var errs []string
	if cfg.Type == "" {
		errs = append(errs, fmt.Sprintf("- %s.Type: is required", prefix))
	} else if !isValidEnumValue(cfg.Type, knownSourceTypes) {
		return append(errs, fmt.Sprintf("- %s.Type: invalid source type '%s', must be one of %v", prefix, cfg.Type, knownSourceTypes))
	}
	if cfg.Locator == "" {
		errs = append(errs, fmt.Sprintf("- %s.Locator: is required", prefix))
	} else if strings.Contains(cfg.Locator, "://") {
		u, err := url.Parse(cfg.Locator)
		if err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Locator: invalid URL: %v", prefix, err))
		} else if !isValidEnumValue(u.Scheme, []string{"http", "https", "file"}) {
			errs = append(errs, fmt.Sprintf("- %s.Locator: unsupported scheme '%s', must be http, https or file", prefix, u.Scheme))
		}
	}
	if cfg.Timeout < minTimeout {
		errs = append(errs, fmt.Sprintf("- %s.Timeout: must be at least %v (use a unit, e.g. \"30s\")", prefix, minTimeout))
	}

	switch strings.ToLower(cfg.Type) {
	case SourceTypeCSV:
		if err := validateSingleRuneString(cfg.Delimiter, prefix+".Delimiter", false); err != nil {
			errs = append(errs, err.Error())
		}
		if err := validateSingleRuneString(cfg.CommentChar, prefix+".CommentChar", true); err != nil {
			errs = append(errs, err.Error())
		}
		if cfg.CommentChar != "" && cfg.CommentChar == cfg.Delimiter {
			errs = append(errs, fmt.Sprintf("- %s.CommentChar: cannot equal the delimiter", prefix))
		}
	case SourceTypeXLSX:
		if cfg.SheetName != "" {
			if err := validateSheetName(cfg.SheetName, prefix+".SheetName"); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if cfg.SheetIndex != nil && *cfg.SheetIndex < 0 {
			errs = append(errs, fmt.Sprintf("- %s.SheetIndex: cannot be negative", prefix))
		}
		if cfg.SheetName != "" && cfg.SheetIndex != nil {
			logging.Logf(logging.Warning, "Validation: Both %s.SheetName ('%s') and %s.SheetIndex (%d) are specified. SheetName will be used.", prefix, cfg.SheetName, prefix, *cfg.SheetIndex)
		}
		if cfg.Delimiter != "" || cfg.CommentChar != "" {
			logging.Logf(logging.Warning, "Validation: %s.Delimiter/CommentChar are specified but will be ignored for type 'xlsx'", prefix)
		}
	}
	return errs
}

// validateDestinationConfig validates one job's Destination section.
func validateDestinationConfig(prefix string, cfg *DestinationConfig) []string {
	var errs []string
	if cfg.Type == "" {
		errs = append(errs, fmt.Sprintf("- %s.Type: is required", prefix))
	} else if !isValidEnumValue(cfg.Type, knownDestinationTypes) {
		errs = append(errs, fmt.Sprintf("- %s.Type: invalid destination type '%s', must be one of %v", prefix, cfg.Type, knownDestinationTypes))
	}
	if cfg.Table == "" {
		errs = append(errs, fmt.Sprintf("- %s.Table: is required", prefix))
	} else if !identifierRegex.MatchString(cfg.Table) {
		errs = append(errs, fmt.Sprintf("- %s.Table: '%s' is not a valid table identifier", prefix, cfg.Table))
	} else if strings.Contains(cfg.Table, ".") && strings.ToLower(cfg.Type) == DestinationTypeSQLite {
		errs = append(errs, fmt.Sprintf("- %s.Table: schema-qualified names are not supported for sqlite", prefix))
	}

	if cfg.Mode == "" {
		errs = append(errs, fmt.Sprintf("- %s.Mode: is required", prefix))
	} else if !isValidEnumValue(cfg.Mode, knownModes) {
		errs = append(errs, fmt.Sprintf("- %s.Mode: invalid write mode '%s', must be one of %v", prefix, cfg.Mode, knownModes))
	}
	if cfg.Timeout < minTimeout {
		errs = append(errs, fmt.Sprintf("- %s.Timeout: must be at least %v (use a unit, e.g. \"60s\")", prefix, minTimeout))
	}
	if !isValidEnumValue(cfg.OnConflict, knownConflictPolicies) {
		errs = append(errs, fmt.Sprintf("- %s.OnConflict: invalid policy '%s', must be one of %v", prefix, cfg.OnConflict, knownConflictPolicies))
	}

	if strings.ToLower(cfg.Mode) == ModeAppendSnapshot {
		if !identifierRegex.MatchString(cfg.SnapshotColumn) || strings.Contains(cfg.SnapshotColumn, ".") {
			errs = append(errs, fmt.Sprintf("- %s.SnapshotColumn: '%s' is not a valid column identifier", prefix, cfg.SnapshotColumn))
		}
		runIDCol := StringValue(cfg.RunIDColumn, "")
		if runIDCol != "" {
			if !identifierRegex.MatchString(runIDCol) || strings.Contains(runIDCol, ".") {
				errs = append(errs, fmt.Sprintf("- %s.RunIDColumn: '%s' is not a valid column identifier", prefix, runIDCol))
			}
			if strings.EqualFold(runIDCol, cfg.SnapshotColumn) {
				errs = append(errs, fmt.Sprintf("- %s.RunIDColumn: must differ from SnapshotColumn", prefix))
			}
		}
	}
	return errs
}

// validateRuleConfig validates a single rule declaration and its params.
func validateRuleConfig(prefix string, rule *RuleConfig) []string {
	var errs []string
	if rule.Type == "" {
		return append(errs, fmt.Sprintf("- %s.Type: is required", prefix))
	}
	if !isValidEnumValue(rule.Type, knownRuleTypes) {
		return append(errs, fmt.Sprintf("- %s.Type: unknown rule type '%s', must be one of %v", prefix, rule.Type, knownRuleTypes))
	}
	lcType := strings.ToLower(rule.Type)
	if lcType != RuleTypeExpression && rule.Column == "" {
		errs = append(errs, fmt.Sprintf("- %s.Column: is required for rule type '%s'", prefix, rule.Type))
	}

	params := rule.Params
	expectParams := func(keys ...string) {
		for _, key := range keys {
			if _, ok := params[key]; !ok {
				errs = append(errs, fmt.Sprintf("- %s.Params: missing required parameter '%s' for rule '%s'", prefix, key, lcType))
			}
		}
	}

	switch lcType {
	case RuleTypeNumericRange:
		_, minExists := params["min"]
		_, maxExists := params["max"]
		if !minExists && !maxExists {
			errs = append(errs, fmt.Sprintf("- %s.Params: requires at least 'min' or 'max' for '%s'", prefix, lcType))
		}
		minVal, minOK := parseParamAsNumber(params["min"])
		maxVal, maxOK := parseParamAsNumber(params["max"])
		if minExists && !minOK {
			errs = append(errs, fmt.Sprintf("- %s.Params: parameter 'min' must be a valid number", prefix))
		}
		if maxExists && !maxOK {
			errs = append(errs, fmt.Sprintf("- %s.Params: parameter 'max' must be a valid number", prefix))
		}
		if minOK && maxOK && minVal > maxVal {
			errs = append(errs, fmt.Sprintf("- %s.Params: 'min' value (%v) cannot be greater than 'max' value (%v)", prefix, minVal, maxVal))
		}
	case RuleTypeRegex:
		expectParams("pattern")
		if raw, ok := params["pattern"]; ok {
			pattern, isStr := raw.(string)
			if !isStr || pattern == "" {
				errs = append(errs, fmt.Sprintf("- %s.Params: parameter 'pattern' must be a non-empty string", prefix))
			} else if _, err := regexp.Compile(pattern); err != nil {
				errs = append(errs, fmt.Sprintf("- %s.Params: invalid regex pattern: %v", prefix, err))
			}
		}
	case RuleTypeAllowedValues:
		expectParams("values")
		if raw, ok := params["values"]; ok {
			v := reflect.ValueOf(raw)
			if v.Kind() != reflect.Slice || v.Len() == 0 {
				errs = append(errs, fmt.Sprintf("- %s.Params: parameter 'values' must be a non-empty list", prefix))
			}
		}
	case RuleTypeMaxLength:
		expectParams("max")
		if raw, ok := params["max"]; ok {
			if n, isInt := parseParamAsInt(raw); !isInt || n < 0 {
				errs = append(errs, fmt.Sprintf("- %s.Params: parameter 'max' must be a non-negative integer", prefix))
			}
		}
	case RuleTypeExpression:
		expectParams("expression")
		if raw, ok := params["expression"]; ok {
			expr, isStr := raw.(string)
			if !isStr || strings.TrimSpace(expr) == "" {
				errs = append(errs, fmt.Sprintf("- %s.Params: parameter 'expression' must be a non-empty string", prefix))
			} else if _, err := govaluate.NewEvaluableExpression(expr); err != nil {
				errs = append(errs, fmt.Sprintf("- %s.Params: invalid expression syntax: %v", prefix, err))
			}
		}
	case RuleTypeNonEmpty, RuleTypeNonNegative, RuleTypeNumeric, RuleTypeUnique:
		if len(params) > 0 {
			logging.Logf(logging.Warning, "Validation: %s.Params are specified but ignored for rule '%s'", prefix, lcType)
		}
	}
	return errs
}

// validateSinkConfig validates one notification sink.
func validateSinkConfig(prefix string, cfg *SinkConfig) []string {
	var errs []string
	if cfg.Type == "" {
		return append(errs, fmt.Sprintf("- %s.Type: is required", prefix))
	}
	if !isValidEnumValue(cfg.Type, knownSinkTypes) {
		return append(errs, fmt.Sprintf("- %s.Type: invalid sink type '%s', must be one of %v", prefix, cfg.Type, knownSinkTypes))
	}
	if cfg.Timeout < minTimeout {
		errs = append(errs, fmt.Sprintf("- %s.Timeout: must be at least %v", prefix, minTimeout))
	}
	switch strings.ToLower(cfg.Type) {
	case SinkTypeCSV:
		if cfg.File == "" {
			errs = append(errs, fmt.Sprintf("- %s.File: is required for sink type 'csv'", prefix))
		} else if strings.HasSuffix(cfg.File, "/") || strings.HasSuffix(cfg.File, "\\") {
			errs = append(errs, fmt.Sprintf("- %s.File: path '%s' appears to be a directory, not a file", prefix, cfg.File))
		}
	case SinkTypeWebhook:
		if cfg.URL == "" {
			errs = append(errs, fmt.Sprintf("- %s.URL: is required for sink type 'webhook'", prefix))
		} else if u, err := url.Parse(cfg.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Sprintf("- %s.URL: '%s' must be an http(s) URL", prefix, cfg.URL))
		}
		if !isValidEnumValue(cfg.Format, knownWebhookFormats) {
			errs = append(errs, fmt.Sprintf("- %s.Format: invalid format '%s', must be one of %v", prefix, cfg.Format, knownWebhookFormats))
		}
	case SinkTypeLog:
		if cfg.File != "" || cfg.URL != "" {
			logging.Logf(logging.Warning, "Validation: %s.File/URL are specified but will be ignored for sink type 'log'", prefix)
		}
	}
	return errs
}

// validateSingleRuneString checks if a string contains exactly one UTF-8 rune.
func validateSingleRuneString(s, fieldName string, allowEmpty bool) error {
	if s == "" {
		if !allowEmpty {
			return fmt.Errorf("- %s: cannot be empty", fieldName)
		}
		return nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return fmt.Errorf("- %s: %s must be a single character", fieldName, strconv.Quote(s))
	}
	return nil
}

// validateSheetName checks an Excel sheet name against Excel's limits.
func validateSheetName(sheetName, fieldName string) error {
	if utf8.RuneCountInString(sheetName) > 31 {
		return fmt.Errorf("- %s: '%s' exceeds maximum length of 31 characters", fieldName, sheetName)
	}
	if strings.ContainsAny(sheetName, `:\/?*[]`) {
		return fmt.Errorf("- %s: '%s' contains invalid characters (: \\ / ? * [ ])", fieldName, sheetName)
	}
	if strings.HasPrefix(sheetName, "'") || strings.HasSuffix(sheetName, "'") {
		return fmt.Errorf("- %s: '%s' cannot start or end with a single quote", fieldName, sheetName)
	}
	return nil
}

// --- Parameter Parsing Helpers (used within validation) ---

// parseParamAsInt accepts YAML integers, whole floats and numeric strings.
func parseParamAsInt(v interface{}) (int, bool) {
	f, ok := parseParamAsNumber(v)
	if !ok || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// parseParamAsNumber accepts the numeric types yaml.v3 produces and numeric strings.
func parseParamAsNumber(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
