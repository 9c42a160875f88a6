package embed

import (
	"fmt"
	"time"

	"github.com/knosi-ai/knosid/internal/config"
)

// New builds the configured embedder, wrapped in an LRU cache.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	var inner Embedder
	switch cfg.Provider {
	case "ollama":
		inner = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions, timeout)
	case "openai":
		inner = NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions, timeout)
	case "static":
		inner = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
