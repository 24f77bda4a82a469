package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aschepis/backscratcher/genllm/conversations"
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError lists every invalid field of a configuration.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	fields := make(map[string]string)

	if err := validate.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return err
		}
		for _, fe := range errs {
			fields[fe.Namespace()] = describe(fe)
		}
	}

	if _, ok := llm.LookupCapabilities(cfg.DefaultProvider); cfg.DefaultProvider != "" && !ok {
		fields["Config.DefaultProvider"] = fmt.Sprintf("default_provider %q is not a known provider", cfg.DefaultProvider)
	}
	for name := range cfg.Providers {
		if _, ok := llm.LookupCapabilities(name); !ok {
			fields["Config.Providers["+name+"]"] = fmt.Sprintf("providers.%s is not a known provider", name)
		}
	}
	if n := cfg.Conversations.MaxTurns; n > 0 && n < conversations.MinMaxTurns {
		fields["Config.Conversations.MaxTurns"] = fmt.Sprintf("conversations.max_turns must be at least %d (one prompt/reply pair) or negative to disable the cap", conversations.MinMaxTurns)
	}
	if s := cfg.Conversations.SweepSchedule; s != "" {
		if _, err := conversations.ParseSchedule(s); err != nil {
			fields["Config.Conversations.SweepSchedule"] = fmt.Sprintf("conversations.sweep_schedule: %v", err)
		}
		if cfg.Conversations.IdleTTL <= 0 {
			fields["Config.Conversations.IdleTTL"] = "conversations.idle_ttl is required when sweep_schedule is set"
		}
	}
	if cfg.Retry.MaxDelay > 0 && cfg.Retry.BaseDelay > cfg.Retry.MaxDelay {
		fields["Config.Retry.BaseDelay"] = "retry.base_delay must not exceed retry.max_delay"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s validation failed on '%s' tag", field, fe.Tag())
	}
}
