// Package config loads tool and campaign configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"lorekeeper/internal/run"
)

// Config is the tool-level configuration, stored at
// <root>/.lorekeeper/config.yaml. Missing file means defaults.
type Config struct {
	// Model is the generation model for extraction and narrative.
	Model string `yaml:"model"`

	// EmbeddingModel is the model used for quote embeddings.
	EmbeddingModel string `yaml:"embedding_model"`

	// PromptVersion participates in the run idempotency key. Bump it to
	// force reprocessing with revised prompts.
	PromptVersion string `yaml:"prompt_version"`

	// APIKeyEnv names the environment variable holding the Gemini key.
	APIKeyEnv string `yaml:"api_key_env"`

	// RequestsPerMinute bounds model calls.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// MaxPromptTokens bounds the transcript text included per request.
	MaxPromptTokens int `yaml:"max_prompt_tokens"`

	// Backoff is the per-stage retry policy.
	Backoff run.BackoffPolicy `yaml:"backoff"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Model:             "gemini-3-flash",
		EmbeddingModel:    "gemini-embedding-001",
		PromptVersion:     "v1",
		APIKeyEnv:         "GEMINI_API_KEY",
		RequestsPerMinute: 10,
		MaxPromptTokens:   200000,
		Backoff:           run.DefaultBackoffPolicy(),
	}
}

// ConfigPath returns the tool config path for a campaign root.
func ConfigPath(root string) string {
	return filepath.Join(root, ".lorekeeper", "config.yaml")
}

// Load reads the tool config for a root, falling back to defaults for a
// missing file and for any zero-valued field.
func Load(root string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(ConfigPath(root))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.merge(loaded)
	return cfg, nil
}

// Save writes the config to its path under root.
func (c Config) Save(root string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path := ConfigPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// APIKey resolves the model API key from the configured environment
// variable.
func (c Config) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

func (c *Config) merge(o Config) {
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.EmbeddingModel != "" {
		c.EmbeddingModel = o.EmbeddingModel
	}
	if o.PromptVersion != "" {
		c.PromptVersion = o.PromptVersion
	}
	if o.APIKeyEnv != "" {
		c.APIKeyEnv = o.APIKeyEnv
	}
	if o.RequestsPerMinute > 0 {
		c.RequestsPerMinute = o.RequestsPerMinute
	}
	if o.MaxPromptTokens > 0 {
		c.MaxPromptTokens = o.MaxPromptTokens
	}
	if o.Backoff.MaxAttempts > 0 {
		c.Backoff = o.Backoff
	}
}
