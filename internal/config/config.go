package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/storechat/internal/logger"
)

// Config represents the main storechat configuration
type Config struct {
	// Gateway HTTP surface
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Providers and their key lists
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Candidates ranked for every chat
	Candidates []CandidateConfig `json:"candidates" mapstructure:"candidates"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Quota ledger
	Ledger LedgerConfig `json:"ledger" mapstructure:"ledger"`

	// Quota summary buckets
	Quota QuotaConfig `json:"quota" mapstructure:"quota"`

	// Store backend the tools read from
	Backend BackendConfig `json:"backend" mapstructure:"backend"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port              int           `json:"port" mapstructure:"port"`
	Host              string        `json:"host" mapstructure:"host"`
	SharedSecret      string        `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int           `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int           `json:"max_concurrent" mapstructure:"max_concurrent"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ProviderConfig describes one upstream LLM provider.
type ProviderConfig struct {
	ID      string   `json:"id" mapstructure:"id"`
	Kind    string   `json:"kind" mapstructure:"kind"` // gemini, openai, anthropic
	BaseURL string   `json:"base_url" mapstructure:"base_url"`
	APIKeys []string `json:"api_keys" mapstructure:"api_keys"`
	Models  []string `json:"models" mapstructure:"models"`
}

// CandidateConfig is one ranked (provider, model) pair.
type CandidateConfig struct {
	Provider string `json:"provider" mapstructure:"provider"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AgentConfig holds agent loop settings
type AgentConfig struct {
	MaxRounds        int           `json:"max_rounds" mapstructure:"max_rounds"`
	FirstTimeout     time.Duration `json:"first_timeout" mapstructure:"first_timeout"`
	ToolRoundTimeout time.Duration `json:"tool_round_timeout" mapstructure:"tool_round_timeout"`
	MaxTokens        int           `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64       `json:"temperature" mapstructure:"temperature"`
	SystemPrompt     string        `json:"system_prompt" mapstructure:"system_prompt"`
}

// ToolsConfig holds tool execution settings
type ToolsConfig struct {
	Timeout        time.Duration               `json:"timeout" mapstructure:"timeout"`
	MaxOutputBytes int                         `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	Policies       map[string]ToolPolicyConfig `json:"policies" mapstructure:"policies"`
}

// ToolPolicyConfig defines tool access for one user role
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// LedgerConfig holds quota ledger persistence settings
type LedgerConfig struct {
	Driver        string        `json:"driver" mapstructure:"driver"` // json, sqlite
	Path          string        `json:"path" mapstructure:"path"`
	FlushDebounce time.Duration `json:"flush_debounce" mapstructure:"flush_debounce"`
	Cooldown      time.Duration `json:"cooldown" mapstructure:"cooldown"`
	ResetSchedule string        `json:"reset_schedule" mapstructure:"reset_schedule"`
}

// QuotaConfig holds the summary buckets
type QuotaConfig struct {
	Buckets []BucketConfig `json:"buckets" mapstructure:"buckets"`
}

// BucketConfig groups models for the quota summary
type BucketConfig struct {
	Name          string   `json:"name" mapstructure:"name"`
	Patterns      []string `json:"patterns" mapstructure:"patterns"`
	Limit         int      `json:"limit" mapstructure:"limit"`
	LimitPerModel int      `json:"limit_per_model" mapstructure:"limit_per_model"`
}

// BackendConfig points the store tools at the application API
type BackendConfig struct {
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Token   string        `json:"token" mapstructure:"token"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile  string `json:"audit_file" mapstructure:"audit_file"`
	// Trace selects the span exporter: off, log or stdout.
	Trace     string `json:"trace" mapstructure:"trace"`
	TraceFile string `json:"trace_file" mapstructure:"trace_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port:              8080,
			Host:              "0.0.0.0",
			RequestsPerMinute: 30,
			MaxConcurrent:     4,
			ShutdownTimeout:   30 * time.Second,
		},
		Providers:  []ProviderConfig{},
		Candidates: []CandidateConfig{},
		Agent: AgentConfig{
			MaxRounds:        5,
			FirstTimeout:     15 * time.Second,
			ToolRoundTimeout: 30 * time.Second,
			MaxTokens:        2048,
			Temperature:      0.3,
		},
		Tools: ToolsConfig{
			Timeout:        20 * time.Second,
			MaxOutputBytes: 10 * 1024,
			Policies:       map[string]ToolPolicyConfig{},
		},
		Ledger: LedgerConfig{
			Driver:        "json",
			FlushDebounce: 2 * time.Second,
			Cooldown:      60 * time.Second,
			ResetSchedule: "0 0 * * *",
		},
		Quota: QuotaConfig{
			Buckets: []BucketConfig{},
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Pretty:     true,
			MaxSize:    50,
			MaxBackups: 5,
			Compress:   true,
			Redaction:  true,
			Trace:      "off",
		},
	}
}

// LoggerConfig converts the logging section for the logger package.
func (l LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      l.Level,
		File:       l.File,
		Console:    l.Console,
		Pretty:     l.Pretty,
		Redaction:  l.Redaction,
		MaxSizeMB:  l.MaxSize,
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
	}
}

// Provider returns the provider with id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Gateway.SharedSecret = mask(c.Gateway.SharedSecret)
	masked.Backend.Token = mask(c.Backend.Token)
	masked.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		keys := make([]string, len(p.APIKeys))
		for j, k := range p.APIKeys {
			keys[j] = mask(k)
		}
		p.APIKeys = keys
		masked.Providers[i] = p
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured: at least one provider is required")
	}

	seen := make(map[string]bool)
	totalKeys := 0
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("provider %s: duplicate id", p.ID)
		}
		seen[p.ID] = true
		if err := v.ValidateProviderKind(p.Kind); err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
		for _, key := range p.APIKeys {
			if err := v.ValidateAPIKey(key, p.Kind); err != nil {
				return fmt.Errorf("provider %s: %w", p.ID, err)
			}
		}
		totalKeys += len(p.APIKeys)
	}
	if totalKeys == 0 {
		return fmt.Errorf("no API keys configured: at least one provider needs api_keys")
	}

	if len(c.Candidates) == 0 {
		return fmt.Errorf("at least one candidate must be configured")
	}
	for i, cand := range c.Candidates {
		if !seen[cand.Provider] {
			return fmt.Errorf("candidate %d: unknown provider %q", i, cand.Provider)
		}
		if strings.TrimSpace(cand.Model) == "" {
			return fmt.Errorf("candidate %d: model is required", i)
		}
	}

	if err := v.ValidatePort(c.Gateway.Port); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if c.Agent.MaxRounds < 1 || c.Agent.MaxRounds > 20 {
		return fmt.Errorf("agent: max_rounds must be between 1 and 20")
	}
	if c.Ledger.Driver != "json" && c.Ledger.Driver != "sqlite" {
		return fmt.Errorf("ledger: invalid driver %s (must be: json, sqlite)", c.Ledger.Driver)
	}
	for i, b := range c.Quota.Buckets {
		if b.Name == "" {
			return fmt.Errorf("quota bucket %d: name is required", i)
		}
	}
	for role, policy := range c.Tools.Policies {
		if err := v.ValidateToolPolicy(policy); err != nil {
			return fmt.Errorf("tool policy %s: %w", role, err)
		}
	}
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if err := v.ValidateTraceExporter(c.Logging.Trace); err != nil {
		return err
	}

	return nil
}
