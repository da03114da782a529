// Package config handles configuration loading and management for Accord.
// It supports XDG config paths, project-level overrides, and environment
// variables, plus the roster table that maps tiers to worker compositions.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Accord.
type Config struct {
	Providers ProvidersConfig `mapstructure:"providers"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Evidence  EvidenceConfig  `mapstructure:"evidence"`
}

// ProvidersConfig holds per-provider credentials handed to worker processes.
type ProvidersConfig struct {
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	OpenAI    ProviderConfig `mapstructure:"openai"`
}

// ProviderConfig holds one provider's settings.
type ProviderConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// BudgetConfig holds the per-run spend budget.
type BudgetConfig struct {
	// USD is the run budget in dollars. Zero disables enforcement.
	USD float64 `mapstructure:"usd"`
	// WarnThreshold is the fraction of budget that triggers the warning
	// alert.
	WarnThreshold float64 `mapstructure:"warn_threshold"`
}

// RetryConfig holds backoff settings.
type RetryConfig struct {
	Base        time.Duration `mapstructure:"base"`
	Max         time.Duration `mapstructure:"max"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Window           int           `mapstructure:"window"`
	MinSamples       int           `mapstructure:"min_samples"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// TimeoutsConfig holds the call and stage deadlines.
type TimeoutsConfig struct {
	Call  time.Duration `mapstructure:"call"`
	Stage time.Duration `mapstructure:"stage"`
}

// ExecutorConfig holds worker process settings.
type ExecutorConfig struct {
	// InlineLimit is the payload size in bytes above which the prompt is
	// delivered on stdin instead of as an argument.
	InlineLimit int `mapstructure:"inline_limit"`
}

// EvidenceConfig holds evidence ledger settings.
type EvidenceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path overrides the default .accord/evidence.db location.
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, ACCORD_BUDGET_USD)
// 2. Project config (.accord.yaml in current directory or parent)
// 3. User config (~/.config/accord/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("providers.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("budget.usd", "ACCORD_BUDGET_USD")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Providers.Anthropic.APIKey = os.ExpandEnv(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = os.ExpandEnv(cfg.Providers.OpenAI.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Budget.USD < 0 {
		return fmt.Errorf("budget.usd must not be negative, got %.2f", c.Budget.USD)
	}
	if c.Budget.WarnThreshold < 0 || c.Budget.WarnThreshold > 1 {
		return fmt.Errorf("budget.warn_threshold must be within [0, 1], got %.2f", c.Budget.WarnThreshold)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be within [0, 1], got %.2f", c.Retry.Jitter)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold > 1 {
		return fmt.Errorf("breaker.failure_threshold must be within (0, 1], got %.2f", c.Breaker.FailureThreshold)
	}
	if c.Timeouts.Call <= 0 || c.Timeouts.Stage <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Timeouts.Stage < c.Timeouts.Call {
		return fmt.Errorf("timeouts.stage (%s) must not be shorter than timeouts.call (%s)",
			c.Timeouts.Stage, c.Timeouts.Call)
	}
	return nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("providers.anthropic.api_key", cfg.Providers.Anthropic.APIKey)
	v.Set("providers.openai.api_key", cfg.Providers.OpenAI.APIKey)
	v.Set("budget.usd", cfg.Budget.USD)
	v.Set("budget.warn_threshold", cfg.Budget.WarnThreshold)
	v.Set("retry.base", cfg.Retry.Base.String())
	v.Set("retry.max", cfg.Retry.Max.String())
	v.Set("retry.jitter", cfg.Retry.Jitter)
	v.Set("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.Set("breaker.window", cfg.Breaker.Window)
	v.Set("breaker.min_samples", cfg.Breaker.MinSamples)
	v.Set("breaker.failure_threshold", cfg.Breaker.FailureThreshold)
	v.Set("breaker.cooldown", cfg.Breaker.Cooldown.String())
	v.Set("timeouts.call", cfg.Timeouts.Call.String())
	v.Set("timeouts.stage", cfg.Timeouts.Stage.String())
	v.Set("executor.inline_limit", cfg.Executor.InlineLimit)
	v.Set("evidence.enabled", cfg.Evidence.Enabled)
	v.Set("evidence.path", cfg.Evidence.Path)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.openai.api_key", "")

	v.SetDefault("budget.usd", 25.0)
	v.SetDefault("budget.warn_threshold", 0.8)

	v.SetDefault("retry.base", "500ms")
	v.SetDefault("retry.max", "30s")
	v.SetDefault("retry.jitter", 0.5)
	v.SetDefault("retry.max_attempts", 5)

	v.SetDefault("breaker.window", 100)
	v.SetDefault("breaker.min_samples", 10)
	v.SetDefault("breaker.failure_threshold", 0.5)
	v.SetDefault("breaker.cooldown", "30s")

	v.SetDefault("timeouts.call", "5m")
	v.SetDefault("timeouts.stage", "30m")

	v.SetDefault("executor.inline_limit", 16384)

	v.SetDefault("evidence.enabled", true)
	v.SetDefault("evidence.path", "")
}

// getUserConfigDir returns the XDG config directory for Accord.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "accord")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "accord")
	}
	return filepath.Join(home, ".config", "accord")
}

// findProjectConfig searches for .accord.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".accord.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Budget: BudgetConfig{
			USD:           25.0,
			WarnThreshold: 0.8,
		},
		Retry: RetryConfig{
			Base:        500 * time.Millisecond,
			Max:         30 * time.Second,
			Jitter:      0.5,
			MaxAttempts: 5,
		},
		Breaker: BreakerConfig{
			Window:           100,
			MinSamples:       10,
			FailureThreshold: 0.5,
			Cooldown:         30 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Call:  5 * time.Minute,
			Stage: 30 * time.Minute,
		},
		Executor: ExecutorConfig{
			InlineLimit: 16384,
		},
		Evidence: EvidenceConfig{
			Enabled: true,
		},
	}
}
