package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigRelPath = ".vulnscan/config.yaml"

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type BatchConfig struct {
	MinBatchSize         int  `yaml:"min_batch_size"`
	MaxBatchSize         int  `yaml:"max_batch_size"`
	TargetTokensPerBatch int  `yaml:"target_tokens_per_batch"`
	MaxTokensPerBatch    int  `yaml:"max_tokens_per_batch"`
	GroupByLanguage      bool `yaml:"group_by_language"`
	GroupByComplexity    bool `yaml:"group_by_complexity"`
	MaxConcurrentBatches int  `yaml:"max_concurrent_batches"`
	MaxFileChars         int  `yaml:"max_file_chars"`
}

type ResilienceConfig struct {
	FailureThreshold       int      `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds int      `yaml:"recovery_timeout_seconds"`
	MaxRetryAttempts       int      `yaml:"max_retry_attempts"`
	BaseDelaySeconds       float64  `yaml:"base_delay_seconds"`
	MaxDelaySeconds        float64  `yaml:"max_delay_seconds"`
	LLMTimeoutSeconds      int      `yaml:"llm_timeout_seconds"`
	BuiltinRetryProviders  []string `yaml:"builtin_retry_providers"`
}

// RecoveryTimeout returns the circuit cooldown as a duration.
func (r ResilienceConfig) RecoveryTimeout() time.Duration {
	return time.Duration(r.RecoveryTimeoutSeconds) * time.Second
}

func (r ResilienceConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySeconds * float64(time.Second))
}

func (r ResilienceConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySeconds * float64(time.Second))
}

func (r ResilienceConfig) LLMTimeout() time.Duration {
	return time.Duration(r.LLMTimeoutSeconds) * time.Second
}

// HasBuiltinRetry reports whether the named provider ships its own retry
// layer, in which case the engine's retry is disabled to avoid double backoff.
func (r ResilienceConfig) HasBuiltinRetry(provider string) bool {
	for _, p := range r.BuiltinRetryProviders {
		if strings.EqualFold(strings.TrimSpace(p), provider) {
			return true
		}
	}
	return false
}

type CacheConfig struct {
	Disabled   bool   `yaml:"disabled"`
	TTLHours   int    `yaml:"ttl_hours"`
	MaxEntries int    `yaml:"max_entries"`
	Path       string `yaml:"path"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

type FilterConfig struct {
	IgnoreExtensions []string `yaml:"ignore_extensions"`
	IgnoreDirs       []string `yaml:"ignore_dirs"`
	IgnorePaths      []string `yaml:"ignore_paths"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Batch      BatchConfig      `yaml:"batch"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Cache      CacheConfig      `yaml:"cache"`
	Filter     FilterConfig     `yaml:"filter"`
	Log        LogConfig        `yaml:"log"`
}

// Load loads YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.Batch.MinBatchSize == 0 {
		c.Batch.MinBatchSize = 2
	}
	if c.Batch.MaxBatchSize == 0 {
		c.Batch.MaxBatchSize = 10
	}
	if c.Batch.TargetTokensPerBatch == 0 {
		c.Batch.TargetTokensPerBatch = 4000
	}
	if c.Batch.MaxTokensPerBatch == 0 {
		c.Batch.MaxTokensPerBatch = 6000
	}
	if c.Batch.MaxConcurrentBatches == 0 {
		c.Batch.MaxConcurrentBatches = 3
	}
	if c.Batch.MaxFileChars == 0 {
		c.Batch.MaxFileChars = 12000
	}
	if c.Resilience.FailureThreshold == 0 {
		c.Resilience.FailureThreshold = 5
	}
	if c.Resilience.RecoveryTimeoutSeconds == 0 {
		c.Resilience.RecoveryTimeoutSeconds = 60
	}
	if c.Resilience.MaxRetryAttempts == 0 {
		c.Resilience.MaxRetryAttempts = 3
	}
	if c.Resilience.BaseDelaySeconds == 0 {
		c.Resilience.BaseDelaySeconds = 1
	}
	if c.Resilience.MaxDelaySeconds == 0 {
		c.Resilience.MaxDelaySeconds = 30
	}
	if c.Resilience.LLMTimeoutSeconds == 0 {
		c.Resilience.LLMTimeoutSeconds = 120
	}
	if len(c.Resilience.BuiltinRetryProviders) == 0 {
		c.Resilience.BuiltinRetryProviders = []string{"anthropic", "bedrock"}
	}
	if c.Cache.TTLHours == 0 {
		c.Cache.TTLHours = 24
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 4096
	}
	if c.Cache.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Cache.Path = filepath.Join(home, ".vulnscan", "cache.db")
		}
	}
	if len(c.Filter.IgnoreExtensions) == 0 {
		c.Filter.IgnoreExtensions = []string{
			".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico",
			".woff", ".woff2", ".ttf", ".eot",
			".zip", ".tar", ".gz", ".pdf", ".lock", ".map",
		}
	}
	if len(c.Filter.IgnoreDirs) == 0 {
		c.Filter.IgnoreDirs = []string{"node_modules", "vendor", "dist", "build", "__pycache__", ".git"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Batch.MaxTokensPerBatch < c.Batch.TargetTokensPerBatch {
		return fmt.Errorf("batch.max_tokens_per_batch (%d) must be >= batch.target_tokens_per_batch (%d)",
			c.Batch.MaxTokensPerBatch, c.Batch.TargetTokensPerBatch)
	}
	if c.Batch.MaxBatchSize < c.Batch.MinBatchSize {
		return fmt.Errorf("batch.max_batch_size (%d) must be >= batch.min_batch_size (%d)",
			c.Batch.MaxBatchSize, c.Batch.MinBatchSize)
	}
	if c.Batch.MaxConcurrentBatches < 1 {
		return errors.New("batch.max_concurrent_batches must be >= 1")
	}
	if c.Resilience.MaxDelaySeconds < c.Resilience.BaseDelaySeconds {
		return errors.New("resilience.max_delay_seconds must be >= base_delay_seconds")
	}
	return nil
}

// ValidateScan enforces scan-specific requirements.
func (c *Config) ValidateScan() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key cannot be empty")
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	setString(&c.LLM.Provider, "VULNSCAN_LLM_PROVIDER")
	setString(&c.LLM.APIKey, "VULNSCAN_LLM_API_KEY")
	setString(&c.LLM.BaseURL, "VULNSCAN_LLM_BASE_URL")
	setString(&c.LLM.Model, "VULNSCAN_LLM_MODEL")
	setInt(&c.LLM.MaxTokens, "VULNSCAN_LLM_MAX_TOKENS")
	setFloat(&c.LLM.Temperature, "VULNSCAN_LLM_TEMPERATURE")
	setInt(&c.Batch.TargetTokensPerBatch, "VULNSCAN_BATCH_TARGET_TOKENS")
	setInt(&c.Batch.MaxTokensPerBatch, "VULNSCAN_BATCH_MAX_TOKENS")
	setInt(&c.Batch.MaxConcurrentBatches, "VULNSCAN_BATCH_MAX_CONCURRENT")
	setInt(&c.Resilience.LLMTimeoutSeconds, "VULNSCAN_LLM_TIMEOUT_SECONDS")
	setBool(&c.Cache.Disabled, "VULNSCAN_CACHE_DISABLED")
	setString(&c.Cache.Path, "VULNSCAN_CACHE_PATH")
	setString(&c.Log.Level, "VULNSCAN_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
