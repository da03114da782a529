package config

import (
	"errors"
	"os"
	"strings"

	"github.com/ShayCichocki/accord/pkg/models"
)

// ErrNoAPIKey is returned when a provider has no key configured.
var ErrNoAPIKey = errors.New("no API key configured")

// providerEnvVars maps each provider to the environment variable its worker
// CLI reads.
var providerEnvVars = map[models.Provider]string{
	models.ProviderAnthropic: "ANTHROPIC_API_KEY",
	models.ProviderOpenAI:    "OPENAI_API_KEY",
}

// KeyForProvider returns the API key for a provider's workers.
// It checks in order: environment variable, config file. Local workers need
// no key and always return empty with no error.
func KeyForProvider(cfg *Config, p models.Provider) (string, error) {
	if p == models.ProviderLocal {
		return "", nil
	}
	if env, ok := providerEnvVars[p]; ok {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}

	var configured string
	switch p {
	case models.ProviderAnthropic:
		if cfg != nil {
			configured = cfg.Providers.Anthropic.APIKey
		}
	case models.ProviderOpenAI:
		if cfg != nil {
			configured = cfg.Providers.OpenAI.APIKey
		}
	}
	if configured != "" {
		key := os.ExpandEnv(configured)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}
	return "", ErrNoAPIKey
}

// WorkerEnv returns the extra environment entries a worker process needs,
// in os/exec KEY=VALUE form. Workers whose provider has no configured key
// get no entries; their CLI may have its own session auth.
func WorkerEnv(cfg *Config, w models.Worker) []string {
	key, err := KeyForProvider(cfg, w.Provider)
	if err != nil || key == "" {
		return nil
	}
	return []string{providerEnvVars[w.Provider] + "=" + key}
}

// MaskAPIKey returns a masked version of an API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// KeySourceForProvider returns where a provider's API key was sourced from.
func KeySourceForProvider(cfg *Config, p models.Provider) KeySource {
	if env, ok := providerEnvVars[p]; ok && os.Getenv(env) != "" {
		return KeySourceEnv
	}

	var configured string
	switch p {
	case models.ProviderAnthropic:
		if cfg != nil {
			configured = cfg.Providers.Anthropic.APIKey
		}
	case models.ProviderOpenAI:
		if cfg != nil {
			configured = cfg.Providers.OpenAI.APIKey
		}
	}
	if configured != "" {
		key := os.ExpandEnv(configured)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}
	return KeySourceNone
}
