package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/accord/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Accord configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/accord/config.yaml
Project-specific overrides can be placed in .accord.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("providers.anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Providers.Anthropic.APIKey))
	fmt.Printf("providers.openai.api_key: %s\n", config.MaskAPIKey(cfg.Providers.OpenAI.APIKey))
	fmt.Printf("budget.usd: %.2f\n", cfg.Budget.USD)
	fmt.Printf("budget.warn_threshold: %.2f\n", cfg.Budget.WarnThreshold)
	fmt.Printf("retry.base: %s\n", cfg.Retry.Base)
	fmt.Printf("retry.max: %s\n", cfg.Retry.Max)
	fmt.Printf("retry.jitter: %.2f\n", cfg.Retry.Jitter)
	fmt.Printf("retry.max_attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("breaker.window: %d\n", cfg.Breaker.Window)
	fmt.Printf("breaker.min_samples: %d\n", cfg.Breaker.MinSamples)
	fmt.Printf("breaker.failure_threshold: %.2f\n", cfg.Breaker.FailureThreshold)
	fmt.Printf("breaker.cooldown: %s\n", cfg.Breaker.Cooldown)
	fmt.Printf("timeouts.call: %s\n", cfg.Timeouts.Call)
	fmt.Printf("timeouts.stage: %s\n", cfg.Timeouts.Stage)
	fmt.Printf("executor.inline_limit: %d\n", cfg.Executor.InlineLimit)
	fmt.Printf("evidence.enabled: %t\n", cfg.Evidence.Enabled)
	fmt.Printf("evidence.path: %s\n", cfg.Evidence.Path)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "providers.anthropic.api_key":
		return config.MaskAPIKey(cfg.Providers.Anthropic.APIKey), nil
	case "providers.openai.api_key":
		return config.MaskAPIKey(cfg.Providers.OpenAI.APIKey), nil
	case "budget.usd":
		return strconv.FormatFloat(cfg.Budget.USD, 'f', 2, 64), nil
	case "budget.warn_threshold":
		return strconv.FormatFloat(cfg.Budget.WarnThreshold, 'f', 2, 64), nil
	case "retry.base":
		return cfg.Retry.Base.String(), nil
	case "retry.max":
		return cfg.Retry.Max.String(), nil
	case "retry.jitter":
		return strconv.FormatFloat(cfg.Retry.Jitter, 'f', 2, 64), nil
	case "retry.max_attempts":
		return strconv.Itoa(cfg.Retry.MaxAttempts), nil
	case "breaker.window":
		return strconv.Itoa(cfg.Breaker.Window), nil
	case "breaker.min_samples":
		return strconv.Itoa(cfg.Breaker.MinSamples), nil
	case "breaker.failure_threshold":
		return strconv.FormatFloat(cfg.Breaker.FailureThreshold, 'f', 2, 64), nil
	case "breaker.cooldown":
		return cfg.Breaker.Cooldown.String(), nil
	case "timeouts.call":
		return cfg.Timeouts.Call.String(), nil
	case "timeouts.stage":
		return cfg.Timeouts.Stage.String(), nil
	case "executor.inline_limit":
		return strconv.Itoa(cfg.Executor.InlineLimit), nil
	case "evidence.enabled":
		return strconv.FormatBool(cfg.Evidence.Enabled), nil
	case "evidence.path":
		return cfg.Evidence.Path, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	parseDuration := func(name string) (time.Duration, error) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %w", name, err)
		}
		return d, nil
	}
	parseFloat := func(name string) (float64, error) {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %w", name, err)
		}
		return f, nil
	}
	parseInt := func(name string) (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", name, err)
		}
		return n, nil
	}

	var err error
	switch strings.ToLower(key) {
	case "providers.anthropic.api_key":
		cfg.Providers.Anthropic.APIKey = value
	case "providers.openai.api_key":
		cfg.Providers.OpenAI.APIKey = value
	case "budget.usd":
		cfg.Budget.USD, err = parseFloat(key)
	case "budget.warn_threshold":
		cfg.Budget.WarnThreshold, err = parseFloat(key)
	case "retry.base":
		cfg.Retry.Base, err = parseDuration(key)
	case "retry.max":
		cfg.Retry.Max, err = parseDuration(key)
	case "retry.jitter":
		cfg.Retry.Jitter, err = parseFloat(key)
	case "retry.max_attempts":
		cfg.Retry.MaxAttempts, err = parseInt(key)
	case "breaker.window":
		cfg.Breaker.Window, err = parseInt(key)
	case "breaker.min_samples":
		cfg.Breaker.MinSamples, err = parseInt(key)
	case "breaker.failure_threshold":
		cfg.Breaker.FailureThreshold, err = parseFloat(key)
	case "breaker.cooldown":
		cfg.Breaker.Cooldown, err = parseDuration(key)
	case "timeouts.call":
		cfg.Timeouts.Call, err = parseDuration(key)
	case "timeouts.stage":
		cfg.Timeouts.Stage, err = parseDuration(key)
	case "executor.inline_limit":
		cfg.Executor.InlineLimit, err = parseInt(key)
	case "evidence.enabled":
		b, perr := strconv.ParseBool(value)
		if perr != nil {
			return fmt.Errorf("invalid boolean for evidence.enabled: %w", perr)
		}
		cfg.Evidence.Enabled = b
	case "evidence.path":
		cfg.Evidence.Path = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}
