package validate

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"sheet-ingest/internal/config"
)

// ruleFactory builds a Rule from its declaration.
type ruleFactory func(cfg config.RuleConfig) (Rule, error)

// registry maps rule types to factories. Populated in init.
var registry = map[string]ruleFactory{}

func init() {
	registry[config.RuleTypeNonEmpty] = func(c config.RuleConfig) (Rule, error) { return NonEmpty(c.Column), nil }
	registry[config.RuleTypeNonNegative] = func(c config.RuleConfig) (Rule, error) { return NonNegative(c.Column), nil }
	registry[config.RuleTypeNumeric] = func(c config.RuleConfig) (Rule, error) { return Numeric(c.Column), nil }
	registry[config.RuleTypeUnique] = func(c config.RuleConfig) (Rule, error) { return Unique(c.Column), nil }
	registry[config.RuleTypeNumericRange] = buildNumericRange
	registry[config.RuleTypeRegex] = buildRegex
	registry[config.RuleTypeAllowedValues] = buildAllowedValues
	registry[config.RuleTypeMaxLength] = buildMaxLength
	registry[config.RuleTypeExpression] = buildExpression
}

// BuildRules turns rule declarations into fresh Rule values, preserving
// order. Stateful rules are new on every call, so call BuildRules once
// per run.
func BuildRules(cfgs []config.RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for i, c := range cfgs {
		ruleType := strings.ToLower(c.Type)
		factory, ok := registry[ruleType]
		if !ok {
			return nil, fmt.Errorf("rule #%d ('%s'): unknown rule type '%s'", i+1, c.Name, c.Type)
		}
		if ruleType != config.RuleTypeExpression && c.Column == "" {
			return nil, fmt.Errorf("rule #%d ('%s'): column is required for rule type '%s'", i+1, c.Name, ruleType)
		}
		rule, err := factory(c)
		if err != nil {
			return nil, fmt.Errorf("rule #%d ('%s'): %w", i+1, c.Name, err)
		}
		rules = append(rules, WithName(rule, c.Name))
	}
	return rules, nil
}

func buildNumericRange(c config.RuleConfig) (Rule, error) {
	min, err := optionalNumberParam(c.Params, "min")
	if err != nil {
		return nil, err
	}
	max, err := optionalNumberParam(c.Params, "max")
	if err != nil {
		return nil, err
	}
	if min == nil && max == nil {
		return nil, fmt.Errorf("requires at least 'min' or 'max'")
	}
	return NumericRange(c.Column, min, max), nil
}

func buildRegex(c config.RuleConfig) (Rule, error) {
	pattern, ok := c.Params["pattern"].(string)
	if !ok || pattern == "" {
		return nil, fmt.Errorf("missing or empty 'pattern' string parameter")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern '%s': %w", pattern, err)
	}
	return Regex(c.Column, re), nil
}

func buildAllowedValues(c config.RuleConfig) (Rule, error) {
	raw, ok := c.Params["values"]
	if !ok {
		return nil, fmt.Errorf("missing 'values' list parameter")
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Slice || v.Len() == 0 {
		return nil, fmt.Errorf("'values' parameter is not a non-empty list")
	}
	values := make([]interface{}, v.Len())
	for i := range values {
		values[i] = v.Index(i).Interface()
	}
	return AllowedValues(c.Column, values), nil
}

func buildMaxLength(c config.RuleConfig) (Rule, error) {
	max, err := optionalNumberParam(c.Params, "max")
	if err != nil {
		return nil, err
	}
	if max == nil || *max < 0 || *max != float64(int(*max)) {
		return nil, fmt.Errorf("'max' must be a non-negative integer")
	}
	return MaxLength(c.Column, int(*max)), nil
}

func buildExpression(c config.RuleConfig) (Rule, error) {
	expr, ok := c.Params["expression"].(string)
	if !ok || strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("missing or empty 'expression' string parameter")
	}
	return Expression(c.Name, expr)
}

// optionalNumberParam reads a numeric param, returning nil when absent.
func optionalNumberParam(params map[string]interface{}, key string) (*float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	if s, isStr := raw.(string); isStr {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid '%s' parameter: '%v' is not a valid number", key, raw)
		}
		return &f, nil
	}
	f, ok := parseValueAsFloat64(raw)
	if !ok {
		return nil, fmt.Errorf("invalid '%s' parameter: '%v' is not a valid number", key, raw)
	}
	return &f, nil
}
