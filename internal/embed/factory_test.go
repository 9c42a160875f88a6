package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knosi-ai/knosid/internal/config"
)

func TestNew_StaticProvider(t *testing.T) {
	cfg := config.DefaultConfig().Embedding
	cfg.Provider = "static"

	e, err := New(cfg)

	require.NoError(t, err)
	assert.Equal(t, "static", e.ModelName())
	assert.Equal(t, StaticDimensions, e.Dimensions())
	// Factory always wraps with the cache layer
	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok)
}

func TestNew_OllamaProvider(t *testing.T) {
	cfg := config.DefaultConfig().Embedding

	e, err := New(cfg)

	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", e.ModelName())
	assert.Equal(t, 768, e.Dimensions())
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig().Embedding
	cfg.Provider = "nope"

	_, err := New(cfg)
	require.Error(t, err)
}
