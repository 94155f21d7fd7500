// Package config loads shiurgen configuration. Everything has a working
// default; environment variables override defaults; an optional YAML file
// (SHIURGEN_CONFIG) overrides both for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration threaded through the pipeline.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Sefaria SefariaConfig `yaml:"sefaria"`
	Store   StoreConfig   `yaml:"store"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// SefariaConfig points at the upstream text provider.
type SefariaConfig struct {
	BaseURL string `yaml:"base_url"`
}

// StoreConfig locates the persistent document store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM:     DefaultLLM(),
		Sefaria: SefariaConfig{BaseURL: "https://www.sefaria.org"},
		Store:   StoreConfig{Path: defaultStorePath()},
		Limits:  DefaultLimits(),
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "shiurgen.db"
	}
	return home + "/.shiurgen/store.db"
}

// Load builds the effective configuration: defaults, then the optional YAML
// file named by SHIURGEN_CONFIG, then environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("SHIURGEN_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr("SEFARIA_BASE_URL", &c.Sefaria.BaseURL)
	envStr("STORE_PATH", &c.Store.Path)
	envStr("GEMINI_API_KEY", &c.LLM.APIKey)
	envStr("LLM_MODEL_PRIMARY", &c.LLM.PrimaryModel)
	envStr("LLM_MODEL_COST", &c.LLM.CostModel)
	envStr("LLM_MODEL_FALLBACK", &c.LLM.FallbackModel)
	envBool("LLM_USE_BATCH", &c.LLM.UseBatch)
	envInt("LLM_BATCH_THRESHOLD", &c.LLM.BatchThreshold)
	envInt("MAX_CHUNKS_PER_SOURCE", &c.Limits.MaxChunksPerSource)
	envInt("CANCELLATION_CHECK_INTERVAL", &c.Limits.CancellationCheckInterval)
	envFloat("HEBREW_RATIO_THRESHOLD", &c.Limits.HebrewRatioThreshold)
}

func (c *Config) validate() error {
	if c.LLM.BatchThreshold < 1 {
		return fmt.Errorf("llm batch threshold must be positive, got %d", c.LLM.BatchThreshold)
	}
	if c.Limits.MaxChunksPerSource < 1 {
		return fmt.Errorf("max chunks per source must be positive, got %d", c.Limits.MaxChunksPerSource)
	}
	if c.Limits.CancellationCheckInterval < 1 {
		return fmt.Errorf("cancellation check interval must be positive, got %d", c.Limits.CancellationCheckInterval)
	}
	if c.Limits.HebrewRatioThreshold <= 0 || c.Limits.HebrewRatioThreshold > 1 {
		return fmt.Errorf("hebrew ratio threshold must be in (0,1], got %v", c.Limits.HebrewRatioThreshold)
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
