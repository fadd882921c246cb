package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harun/storechat/pkg/toolexecutor"
	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProviderKind validates a provider wire kind
func (v *Validator) ValidateProviderKind(kind string) error {
	validKinds := []string{"gemini", "openai", "anthropic"}
	for _, valid := range validKinds {
		if kind == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider kind %s (must be: %s)", kind, strings.Join(validKinds, ", "))
}

// ValidateAPIKey validates an API key format. OpenAI-compatible providers
// use many key formats, so only emptiness and whitespace are checked for them.
func (v *Validator) ValidateAPIKey(key string, kind string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", kind)
	}
	if strings.TrimSpace(key) != key || strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("%s API key contains whitespace", kind)
	}

	switch kind {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "gemini":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidatePort validates a listen port
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateTraceExporter validates the span exporter mode. Empty means off.
func (v *Validator) ValidateTraceExporter(mode string) error {
	switch mode {
	case "", "off", "log", "stdout":
		return nil
	}
	return fmt.Errorf("invalid trace exporter: %s (must be one of: off, log, stdout)", mode)
}

// ValidateToolPolicy validates a role tool policy
func (v *Validator) ValidateToolPolicy(policy ToolPolicyConfig) error {
	tp := &toolexecutor.ToolPolicy{Allow: policy.Allow, Deny: policy.Deny}
	return tp.Validate()
}

// ValidateSchedule validates a cron expression
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateBaseURL validates an optional absolute http(s) URL
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base url %q: scheme must be http or https", raw)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and reports every
// problem found, unlike Config.Validate which stops at the first.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, p := range cfg.Providers {
		if err := v.ValidateBaseURL(p.BaseURL); err != nil {
			errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
		}
		if len(p.APIKeys) == 0 {
			errors = append(errors, fmt.Errorf("provider %d (%s): no api_keys, it will be skipped", i, p.ID))
		}
		for _, key := range p.APIKeys {
			if err := v.ValidateAPIKey(key, p.Kind); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			}
		}
	}

	if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("agent: %w", err))
	}
	if cfg.Agent.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
			errors = append(errors, fmt.Errorf("agent: %w", err))
		}
	}
	if cfg.Agent.FirstTimeout < 0 || cfg.Agent.ToolRoundTimeout < 0 {
		errors = append(errors, fmt.Errorf("agent: timeouts must be >= 0"))
	}

	if cfg.Gateway.RequestsPerMinute < 0 {
		errors = append(errors, fmt.Errorf("gateway: requests_per_minute must be >= 0"))
	}
	if err := v.ValidateBaseURL(cfg.Backend.BaseURL); err != nil {
		errors = append(errors, fmt.Errorf("backend: %w", err))
	}
	if err := v.ValidateSchedule(cfg.Ledger.ResetSchedule); err != nil {
		errors = append(errors, fmt.Errorf("ledger: %w", err))
	}
	if cfg.Ledger.Cooldown < 0 || cfg.Ledger.FlushDebounce < 0 {
		errors = append(errors, fmt.Errorf("ledger: durations must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTraceExporter(cfg.Logging.Trace); err != nil {
		errors = append(errors, err)
	}

	return errors
}
