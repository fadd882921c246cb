package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/storechat/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "STORECHAT"
	configDirName  = ".storechat"
	configFileName = "storechat.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string

	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// DefaultConfigPath returns $HOME/.storechat/storechat.json.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, configDirName, configFileName), nil
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	return DefaultConfigPath()
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// STORECHAT_GATEWAY_SHARED_SECRET overrides gateway.shared_secret
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())
	return v
}

// setDefaults registers scalar keys so environment overrides apply even when
// the file omits them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("gateway.port", cfg.Gateway.Port)
	v.SetDefault("gateway.host", cfg.Gateway.Host)
	v.SetDefault("gateway.shared_secret", cfg.Gateway.SharedSecret)
	v.SetDefault("gateway.requests_per_minute", cfg.Gateway.RequestsPerMinute)
	v.SetDefault("gateway.max_concurrent", cfg.Gateway.MaxConcurrent)
	v.SetDefault("gateway.shutdown_timeout", cfg.Gateway.ShutdownTimeout)
	v.SetDefault("agent.max_rounds", cfg.Agent.MaxRounds)
	v.SetDefault("agent.first_timeout", cfg.Agent.FirstTimeout)
	v.SetDefault("agent.tool_round_timeout", cfg.Agent.ToolRoundTimeout)
	v.SetDefault("agent.max_tokens", cfg.Agent.MaxTokens)
	v.SetDefault("agent.temperature", cfg.Agent.Temperature)
	v.SetDefault("tools.timeout", cfg.Tools.Timeout)
	v.SetDefault("tools.max_output_bytes", cfg.Tools.MaxOutputBytes)
	v.SetDefault("ledger.driver", cfg.Ledger.Driver)
	v.SetDefault("ledger.path", cfg.Ledger.Path)
	v.SetDefault("ledger.flush_debounce", cfg.Ledger.FlushDebounce)
	v.SetDefault("ledger.cooldown", cfg.Ledger.Cooldown)
	v.SetDefault("ledger.reset_schedule", cfg.Ledger.ResetSchedule)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.token", cfg.Backend.Token)
	v.SetDefault("backend.timeout", cfg.Backend.Timeout)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.trace", cfg.Logging.Trace)
	v.SetDefault("logging.trace_file", cfg.Logging.TraceFile)
	v.SetDefault("data_dir", cfg.DataDir)
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	v := newViper(configPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	l.mu.Lock()
	l.v = v
	l.mu.Unlock()

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := applyPathDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyPathDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, configDirName)
	}

	if cfg.Ledger.Path == "" {
		name := "quota.json"
		if cfg.Ledger.Driver == "sqlite" {
			name = "quota.db"
		}
		cfg.Ledger.Path = filepath.Join(cfg.DataDir, name)
	}

	return nil
}

// Watch calls onChange with the re-read configuration whenever the file
// changes. Invalid edits are logged and skipped. Load must be called first.
func (l *Loader) Watch(onChange func(*Config)) error {
	l.mu.Lock()
	v := l.v
	l.mu.Unlock()
	if v == nil {
		return fmt.Errorf("config must be loaded before watching")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring unreadable config change")
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		observability.RecordConfigAudit(context.Background(), "reload", map[string]interface{}{"file": e.Name})
		log.Info().Str("file", e.Name).Msg("Configuration reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("gateway", cfg.Gateway)
	v.Set("providers", cfg.Providers)
	v.Set("candidates", cfg.Candidates)
	v.Set("agent", cfg.Agent)
	v.Set("tools", cfg.Tools)
	v.Set("ledger", cfg.Ledger)
	v.Set("quota", cfg.Quota)
	v.Set("backend", cfg.Backend)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(configPath, 0600)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
