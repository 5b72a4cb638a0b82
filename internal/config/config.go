// Package config holds the viper-backed configuration singleton.
// Environment variables take precedence over the optional
// ~/.chronicle/config.yaml file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be
// called once at application startup; safe to call again in tests.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Optional config file: ~/.chronicle/config.yaml
	if homeDir, err := os.UserHomeDir(); err == nil {
		configPath := filepath.Join(homeDir, ".chronicle", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
		}
	}

	v.SetEnvPrefix("CHRONICLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "")
	v.SetDefault("tz", "UTC")
	v.SetDefault("debug", false)

	// LLM settings are not CHRONICLE_-prefixed; bound explicitly so the
	// same variables drive every deployment surface.
	_ = v.BindEnv("llm-mode", "LLM_MODE")
	_ = v.BindEnv("llm-provider-default", "LLM_PROVIDER_DEFAULT")
	_ = v.BindEnv("openai-api-key", "OPENAI_API_KEY")
	_ = v.BindEnv("anthropic-api-key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm-min-delay-ms", "LLM_MIN_DELAY_MS")
	_ = v.BindEnv("llm-max-usd-per-run", "LLM_MAX_USD_PER_RUN")
	_ = v.BindEnv("llm-max-usd-per-day", "LLM_MAX_USD_PER_DAY")

	v.SetDefault("llm-mode", "dry_run")

	return nil
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}

// LlmMode returns "real" only when LLM_MODE is exactly "real";
// anything else means dry_run.
func LlmMode() string {
	ensure()
	if v.GetString("llm-mode") == "real" {
		return "real"
	}
	return "dry_run"
}

// ProviderDefault returns "openai" or "anthropic" (case-insensitive
// match); invalid or missing values yield "".
func ProviderDefault() string {
	ensure()
	switch strings.ToLower(strings.TrimSpace(v.GetString("llm-provider-default"))) {
	case "openai":
		return "openai"
	case "anthropic":
		return "anthropic"
	}
	return ""
}

// APIKey returns the trimmed credential for a provider, or "".
func APIKey(provider string) string {
	ensure()
	switch provider {
	case "openai":
		return strings.TrimSpace(v.GetString("openai-api-key"))
	case "anthropic":
		return strings.TrimSpace(v.GetString("anthropic-api-key"))
	}
	return ""
}

// MinDelayMs returns the rate-limit floor in milliseconds. Zero is
// permitted (disables the wait, not the serialisation); non-numeric or
// negative values fall back to the default of 250.
func MinDelayMs() int {
	ensure()
	raw := strings.TrimSpace(v.GetString("llm-min-delay-ms"))
	if raw == "" {
		return 250
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 250
	}
	return n
}

// MaxUsdPerRun returns the per-run hard cap, or 0 when unset.
// Non-positive and non-numeric values are ignored.
func MaxUsdPerRun() float64 {
	return positiveFloat("llm-max-usd-per-run")
}

// MaxUsdPerDay returns the per-UTC-calendar-day cap across all runs,
// or 0 when unset.
func MaxUsdPerDay() float64 {
	return positiveFloat("llm-max-usd-per-day")
}

func positiveFloat(key string) float64 {
	ensure()
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return f
}

// DBPath returns the configured database path, or the default
// ~/.chronicle/chronicle.db.
func DBPath() string {
	ensure()
	if p := v.GetString("db"); p != "" {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "chronicle.db"
	}
	return filepath.Join(homeDir, ".chronicle", "chronicle.db")
}

// DefaultTimezone returns the IANA timezone used for imports when the
// caller does not pass one.
func DefaultTimezone() string {
	ensure()
	return v.GetString("tz")
}

// DebugEnabled reports whether debug-file logging is on.
func DebugEnabled() bool {
	ensure()
	return v.GetBool("debug")
}
