// Package config loads and validates knosid configuration.
//
// Configuration comes from three layers, later layers winning:
// built-in defaults, an optional YAML file, and KNOSID_* environment
// variables for deployment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	kerrors "github.com/knosi-ai/knosid/internal/errors"
)

// Config is the root configuration for the knosid server.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Chat      ChatConfig      `yaml:"chat" json:"chat"`
	Parser    ParserConfig    `yaml:"parser" json:"parser"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	MaxUploadMB int    `yaml:"max_upload_mb" json:"max_upload_mb"`
}

// StorageConfig controls where documents and vectors live.
type StorageConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ChunkingConfig controls how extracted text is split into fragments.
type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of "ollama", "openai", or "static".
	Provider   string `yaml:"provider" json:"provider"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	APIKey     string `yaml:"-" json:"-"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	TimeoutSec int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ChatConfig tunes answer generation.
type ChatConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Model          string `yaml:"model" json:"model"`
	TopK           int    `yaml:"top_k" json:"top_k"`
	ContextBudget  int    `yaml:"context_budget" json:"context_budget"`
	TimeoutSec     int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ParserConfig points at the external document parsing service used
// for formats knosid cannot decode locally (PDF).
type ParserConfig struct {
	URL        string `yaml:"url" json:"url"`
	TimeoutSec int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8374,
			MaxUploadMB: 100,
		},
		Storage: StorageConfig{
			DataDir: ".knosid",
		},
		Chunking: ChunkingConfig{
			Size:    4000,
			Overlap: 200,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			CacheSize:  4096,
			TimeoutSec: 60,
		},
		Chat: ChatConfig{
			BaseURL:       "http://localhost:11434",
			Model:         "llama3.1",
			TopK:          5,
			ContextBudget: 12000,
			TimeoutSec:    120,
		},
		Parser: ParserConfig{
			TimeoutSec: 60,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// Load reads configuration from path, layering it over defaults and
// applying environment overrides. A missing file is not an error when
// path is empty; a named file that does not exist is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, kerrors.New(kerrors.ErrCodeConfigNotFound,
					fmt.Sprintf("config file not found: %s", path), err)
			}
			return nil, kerrors.ConfigError("failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, kerrors.ConfigError("failed to parse config file", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps KNOSID_* environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("KNOSID_HOST", &cfg.Server.Host)
	setInt("KNOSID_PORT", &cfg.Server.Port)
	setString("KNOSID_DATA_DIR", &cfg.Storage.DataDir)
	setInt("KNOSID_CHUNK_SIZE", &cfg.Chunking.Size)
	setInt("KNOSID_CHUNK_OVERLAP", &cfg.Chunking.Overlap)
	setString("KNOSID_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	setString("KNOSID_EMBEDDING_URL", &cfg.Embedding.BaseURL)
	setString("KNOSID_EMBEDDING_MODEL", &cfg.Embedding.Model)
	setInt("KNOSID_EMBEDDING_DIM", &cfg.Embedding.Dimensions)
	setString("KNOSID_API_KEY", &cfg.Embedding.APIKey)
	setString("KNOSID_CHAT_URL", &cfg.Chat.BaseURL)
	setString("KNOSID_CHAT_MODEL", &cfg.Chat.Model)
	setString("KNOSID_PARSER_URL", &cfg.Parser.URL)
	setString("KNOSID_LOG_LEVEL", &cfg.Logging.Level)
}

// Validate checks the configuration for values that would break the
// pipeline at runtime. It is called once at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return kerrors.ConfigError(fmt.Sprintf("invalid port: %d", c.Server.Port), nil)
	}
	if c.Server.MaxUploadMB <= 0 {
		return kerrors.ConfigError("max_upload_mb must be positive", nil)
	}
	if c.Storage.DataDir == "" {
		return kerrors.ConfigError("data_dir must not be empty", nil)
	}
	if c.Chunking.Size <= 0 {
		return kerrors.ConfigError(fmt.Sprintf("chunk size must be positive, got %d", c.Chunking.Size), nil)
	}
	if c.Chunking.Overlap < 0 {
		return kerrors.ConfigError(fmt.Sprintf("chunk overlap must not be negative, got %d", c.Chunking.Overlap), nil)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return kerrors.ConfigError(
			fmt.Sprintf("chunk overlap (%d) must be smaller than chunk size (%d)",
				c.Chunking.Overlap, c.Chunking.Size), nil)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "static":
	default:
		return kerrors.ConfigError(fmt.Sprintf("unknown embedding provider: %s", c.Embedding.Provider), nil)
	}
	if c.Embedding.Dimensions <= 0 {
		return kerrors.ConfigError("embedding dimensions must be positive", nil)
	}
	if c.Chat.TopK <= 0 {
		return kerrors.ConfigError("chat top_k must be positive", nil)
	}
	if c.Chat.ContextBudget <= 0 {
		return kerrors.ConfigError("chat context_budget must be positive", nil)
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) * 1024 * 1024
}
