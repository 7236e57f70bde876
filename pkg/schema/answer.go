package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/palaverhq/palaver/pkg/flow"
)

// ValidateAnswer checks a candidate answer against the Question node's
// declared data_type, its allowed_values, and the named validator rule
// from the flow's validations map (if any). All failures are collected
// into one AggregateError so the user can be told everything at once.
func ValidateAnswer(node *flow.Node, rules map[string]flow.ValidationRule, value any) error {
	var errs []error

	typ, err := ParseType(node.DataType)
	if err != nil {
		// Caught at compile time; kept here as a backstop.
		errs = append(errs, &ValidationError{Key: node.Key, Reason: err.Error(), Value: value})
	} else if terr := typ.Validate(value); terr != nil {
		errs = append(errs, &ValidationError{Key: node.Key, Reason: terr.Error(), Value: value})
	}

	if len(node.AllowedValues) > 0 {
		if s, ok := value.(string); !ok || !containsFold(node.AllowedValues, s) {
			errs = append(errs, &ValidationError{
				Key:    node.Key,
				Reason: fmt.Sprintf("must be one of %s", strings.Join(node.AllowedValues, ", ")),
				Value:  value,
			})
		}
	}

	if node.Validator != "" {
		rule, ok := rules[node.Validator]
		if !ok {
			errs = append(errs, &ValidationError{Key: node.Key, Reason: fmt.Sprintf("unknown validator %q", node.Validator)})
		} else if rerr := applyRule(node.Key, rule, value); rerr != nil {
			errs = append(errs, rerr)
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// CheckRule verifies a validation rule is well-formed (compile-time use).
func CheckRule(rule flow.ValidationRule) error {
	if rule.Type != "" {
		if _, err := ParseType(rule.Type); err != nil {
			return err
		}
	}
	if rule.Pattern != "" {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}
	return nil
}

func applyRule(key string, rule flow.ValidationRule, value any) error {
	reason := func(def string) string {
		if rule.Message != "" {
			return rule.Message
		}
		return def
	}

	if rule.Type != "" {
		typ, err := ParseType(rule.Type)
		if err != nil {
			return &ValidationError{Key: key, Reason: err.Error(), Value: value}
		}
		if terr := typ.Validate(value); terr != nil {
			return &ValidationError{Key: key, Reason: reason(terr.Error()), Value: value}
		}
	}

	if rule.Pattern != "" {
		s, ok := value.(string)
		if !ok {
			return &ValidationError{Key: key, Reason: reason("pattern rules apply to text answers"), Value: value}
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return &ValidationError{Key: key, Reason: fmt.Sprintf("invalid pattern: %v", err)}
		}
		if !re.MatchString(s) {
			return &ValidationError{Key: key, Reason: reason(fmt.Sprintf("does not match %s", rule.Pattern)), Value: value}
		}
	}

	if len(rule.AllowedValues) > 0 {
		if s, ok := value.(string); !ok || !containsFold(rule.AllowedValues, s) {
			return &ValidationError{
				Key:    key,
				Reason: reason(fmt.Sprintf("must be one of %s", strings.Join(rule.AllowedValues, ", "))),
				Value:  value,
			}
		}
	}
	return nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(strings.TrimSpace(needle), h) {
			return true
		}
	}
	return false
}
