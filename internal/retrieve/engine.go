// Package retrieve answers queries against the indexed documents,
// either as raw similarity search or as grounded chat.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knosi-ai/knosid/internal/embed"
	kerrors "github.com/knosi-ai/knosid/internal/errors"
	"github.com/knosi-ai/knosid/internal/llm"
	"github.com/knosi-ai/knosid/internal/store"
)

// DefaultSearchLimit applies when a search request has no limit.
const DefaultSearchLimit = 10

// NoDocumentsResponse is returned by Chat when nothing is indexed.
const NoDocumentsResponse = "I don't have any documents to answer from yet. Upload some documents and ask again."

// systemPrompt grounds the model in the retrieved fragments.
const systemPrompt = `You are a helpful assistant that answers questions using only the provided documents. If the documents do not contain the answer, say that you don't know. Do not invent information.

Documents:

%s`

// SearchResult is one similarity hit, content verbatim.
type SearchResult struct {
	Path       string  `json:"path"`
	Collection string  `json:"collection,omitempty"`
	Ordinal    int     `json:"ordinal"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// Source attributes an answer to a document. Ordinals list the
// fragments that contributed, in ranking order.
type Source struct {
	Path     string `json:"path"`
	Ordinals []int  `json:"ordinals"`
}

// Answer is a chat response with optional attributions.
type Answer struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources,omitempty"`
}

// Engine runs search and chat over the store.
type Engine struct {
	embedder      embed.Embedder
	store         *store.Store
	generator     llm.Generator
	topK          int
	contextBudget int
}

// NewEngine creates a retrieval engine. topK bounds the fragments fed
// to chat; contextBudget caps the assembled context in characters.
func NewEngine(embedder embed.Embedder, st *store.Store, generator llm.Generator, topK, contextBudget int) *Engine {
	if topK <= 0 {
		topK = 5
	}
	if contextBudget <= 0 {
		contextBudget = 12000
	}
	return &Engine{
		embedder:      embedder,
		store:         st,
		generator:     generator,
		topK:          topK,
		contextBudget: contextBudget,
	}
}

// Search embeds the query and returns the most similar fragments.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, kerrors.ValidationError("search query must not be empty", nil)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, kerrors.EmbeddingFailed(err)
	}

	hits, err := e.store.TopKSimilar(ctx, vector, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{
			Path:       h.Identity.Path,
			Collection: h.Identity.Collection,
			Ordinal:    h.Ordinal,
			Content:    h.Content,
			Score:      h.Score,
		}
	}
	return results, nil
}

// Chat retrieves the fragments most relevant to message, assembles a
// bounded context, and asks the generator for a grounded answer. An
// empty index returns a canned response without calling the model.
func (e *Engine) Chat(ctx context.Context, message string, includeSources bool) (*Answer, error) {
	if strings.TrimSpace(message) == "" {
		return nil, kerrors.ValidationError("chat message must not be empty", nil)
	}

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Documents == 0 {
		return &Answer{Response: NoDocumentsResponse}, nil
	}

	hits, err := e.Search(ctx, message, e.topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &Answer{Response: NoDocumentsResponse}, nil
	}

	included := e.fitBudget(hits)
	contextBlock := buildContext(included)

	response, err := e.generator.Generate(ctx, fmt.Sprintf(systemPrompt, contextBlock), message)
	if err != nil {
		return nil, err
	}

	answer := &Answer{Response: response}
	if includeSources {
		answer.Sources = collectSources(included)
	}

	slog.Debug("chat answered",
		slog.Int("fragments", len(included)),
		slog.Int("context_chars", len(contextBlock)))
	return answer, nil
}

// fitBudget keeps whole fragments in ranking order until the context
// budget is spent. Fragments are never cut mid-content; the top hit is
// always included.
func (e *Engine) fitBudget(hits []SearchResult) []SearchResult {
	included := hits[:0:0]
	used := 0
	for i, h := range hits {
		cost := len(h.Content) + len(h.Path) + 32
		if i > 0 && used+cost > e.contextBudget {
			break
		}
		included = append(included, h)
		used += cost
	}
	return included
}

// buildContext renders fragments as source-labeled blocks.
func buildContext(hits []SearchResult) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		blocks[i] = fmt.Sprintf("[Source: %s]\n%s", h.Path, h.Content)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// collectSources deduplicates hits by path, preserving ranking order.
func collectSources(hits []SearchResult) []Source {
	index := make(map[string]int)
	var sources []Source
	for _, h := range hits {
		if i, seen := index[h.Path]; seen {
			sources[i].Ordinals = append(sources[i].Ordinals, h.Ordinal)
			continue
		}
		index[h.Path] = len(sources)
		sources = append(sources, Source{Path: h.Path, Ordinals: []int{h.Ordinal}})
	}
	return sources
}
