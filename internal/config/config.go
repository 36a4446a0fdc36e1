package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RetrieverConfig selects and configures the passage retriever.
type RetrieverConfig struct {
	Type     string          `yaml:"type"`
	TopK     int             `yaml:"top_k"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
	Memory   *MemoryConfig   `yaml:"memory,omitempty"`
}

// PineconeConfig contains connection details for a hosted Pinecone-style
// index. The API key is read from the environment variable named by
// APIKeyEnv, never from this file.
type PineconeConfig struct {
	Host        string `yaml:"host"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Namespace   string `yaml:"namespace"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// MemoryConfig points at a local YAML passage corpus for offline use.
type MemoryConfig struct {
	PassagesPath string `yaml:"passages_path"`
}

// EmbedderConfig configures the OpenAI-compatible embedder used to embed
// queries for the hosted index.
type EmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GeneratorConfig selects and configures the generative model client.
type GeneratorConfig struct {
	Type    string         `yaml:"type"`
	Mistral *MistralConfig `yaml:"mistral,omitempty"`
}

// MistralConfig contains connection details for a Mistral-style chat API.
type MistralConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PromptConfig configures the system instruction source and size budgets.
type PromptConfig struct {
	SystemPath         string `yaml:"system_path"`
	HistoryBudgetChars int    `yaml:"history_budget_chars"`
	MaxPayloadChars    int    `yaml:"max_payload_chars"`
}

// CacheConfig selects the answer/retrieval cache backend.
type CacheConfig struct {
	Type    string       `yaml:"type"` // none, memory, redis
	TTLSecs int          `yaml:"ttl_secs"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig contains connection details for a Redis cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RetryConfig bounds retries of transient retrieval and generation failures.
// These are documented defaults, not contractual constants.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

// ChatConfig tunes the pipeline itself.
type ChatConfig struct {
	RefineQuery bool `yaml:"refine_query"`
}

// AppConfig is the root application configuration structure. It is built once
// at startup and read-only afterwards.
type AppConfig struct {
	Retriever RetrieverConfig `yaml:"retriever"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Cache     CacheConfig     `yaml:"cache"`
	Retry     RetryConfig     `yaml:"retry"`
	Chat      ChatConfig      `yaml:"chat"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/biblechat/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "biblechat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Retriever: RetrieverConfig{Type: "pinecone"},
		Generator: GeneratorConfig{Type: "mistral"},
		Cache:     CacheConfig{Type: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 4
	}
	if cfg.Retriever.Type == "pinecone" || cfg.Retriever.Type == "" {
		if cfg.Retriever.Pinecone == nil {
			cfg.Retriever.Pinecone = &PineconeConfig{}
		}
		p := cfg.Retriever.Pinecone
		if p.APIKeyEnv == "" {
			p.APIKeyEnv = "PINECONE_API_KEY"
		}
		if p.Namespace == "" {
			p.Namespace = "text_chunks"
		}
		if p.TimeoutSecs == 0 {
			p.TimeoutSecs = 15
		}
	}
	if cfg.Embedder.BaseURL == "" {
		cfg.Embedder.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedder.APIKeyEnv == "" {
		cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "text-embedding-3-small"
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Generator.Type == "mistral" || cfg.Generator.Type == "" {
		if cfg.Generator.Mistral == nil {
			cfg.Generator.Mistral = &MistralConfig{}
		}
		m := cfg.Generator.Mistral
		if m.BaseURL == "" {
			m.BaseURL = "https://api.mistral.ai"
		}
		if m.APIKeyEnv == "" {
			m.APIKeyEnv = "MISTRAL_API_KEY"
		}
		if m.Model == "" {
			m.Model = "mistral-large-latest"
		}
		if m.TimeoutSecs == 0 {
			m.TimeoutSecs = 30
		}
	}
	if cfg.Prompt.HistoryBudgetChars == 0 {
		cfg.Prompt.HistoryBudgetChars = 8000
	}
	if cfg.Prompt.MaxPayloadChars == 0 {
		cfg.Prompt.MaxPayloadChars = 32000
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "memory"
	}
	if cfg.Cache.TTLSecs == 0 {
		cfg.Cache.TTLSecs = 86400
	}
	if cfg.Cache.Type == "redis" && cfg.Cache.Redis == nil {
		cfg.Cache.Redis = &RedisConfig{Addr: "localhost:6379"}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelayMs == 0 {
		cfg.Retry.BaseDelayMs = 200
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = 5000
	}
}
