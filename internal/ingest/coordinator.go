// Package ingest orchestrates the indexing pipeline: dedup check,
// extraction, chunking, embedding, and storage.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/knosi-ai/knosid/internal/chunk"
	"github.com/knosi-ai/knosid/internal/embed"
	kerrors "github.com/knosi-ai/knosid/internal/errors"
	"github.com/knosi-ai/knosid/internal/extract"
	"github.com/knosi-ai/knosid/internal/progress"
	"github.com/knosi-ai/knosid/internal/store"
)

// Request is one document to ingest.
type Request struct {
	Identity store.Identity
	Data     []byte
	// OperationID, when set, routes phase events to the progress
	// registry under that ID.
	OperationID string
}

// Result reports what ingestion did.
type Result struct {
	Outcome       store.Outcome
	FragmentCount int
}

// Coordinator runs the ingestion pipeline. Requests for different
// identities may run concurrently; the store serializes writes.
type Coordinator struct {
	extractor *extract.Gateway
	chunker   *chunk.Chunker
	embedder  embed.Embedder
	store     *store.Store
	progress  *progress.Registry
}

// NewCoordinator wires the pipeline stages together.
func NewCoordinator(extractor *extract.Gateway, chunker *chunk.Chunker, embedder embed.Embedder, st *store.Store, reg *progress.Registry) *Coordinator {
	return &Coordinator{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     st,
		progress:  reg,
	}
}

// Ingest runs the full pipeline for one document. A document whose
// content hash matches the stored version short-circuits before
// extraction; a failure at any phase leaves the previously stored
// version untouched.
func (c *Coordinator) Ingest(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	c.publish(req.OperationID, "received")

	contentHash := hashContent(req.Data)

	existing, err := c.store.FindByIdentity(ctx, req.Identity)
	if err != nil && kerrors.GetCode(err) != kerrors.ErrCodeNotFound {
		return nil, c.fail(req.OperationID, err)
	}
	if existing != nil && existing.ContentHash == contentHash {
		slog.Debug("document unchanged, skipping pipeline",
			slog.String("identity", req.Identity.String()))
		c.publish(req.OperationID, terminalEvent(store.OutcomeUnchanged, existing.FragmentCount))
		return &Result{Outcome: store.OutcomeUnchanged, FragmentCount: existing.FragmentCount}, nil
	}

	// Empty output fails here as ExtractionFailed, inside the gateway.
	c.publish(req.OperationID, "extracting")
	text, err := c.extractor.Extract(ctx, req.Data, req.Identity.Path)
	if err != nil {
		return nil, c.fail(req.OperationID, err)
	}

	c.publish(req.OperationID, "chunking")
	fragments := c.chunker.Split(text)
	if len(fragments) == 0 {
		return nil, c.fail(req.OperationID, kerrors.EmptyDocument(req.Identity.Path))
	}

	c.publish(req.OperationID, fmt.Sprintf("embedding %d fragments", len(fragments)))
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, c.fail(req.OperationID, kerrors.EmbeddingFailed(err))
	}

	c.publish(req.OperationID, "storing")
	stored := make([]store.Fragment, len(fragments))
	for i, f := range fragments {
		stored[i] = store.Fragment{Ordinal: f.Ordinal, Content: f.Content, Vector: vectors[i]}
	}
	outcome, err := c.store.Upsert(ctx, req.Identity, contentHash, int64(len(req.Data)), stored)
	if err != nil {
		return nil, c.fail(req.OperationID, err)
	}

	slog.Info("document indexed",
		slog.String("identity", req.Identity.String()),
		slog.String("outcome", string(outcome)),
		slog.Int("fragments", len(stored)),
		slog.Duration("took", time.Since(started)))

	c.publish(req.OperationID, terminalEvent(outcome, len(stored)))
	return &Result{Outcome: outcome, FragmentCount: len(stored)}, nil
}

// terminalEvent formats the closing progress event so subscribers can
// read the outcome and fragment count off the stream.
func terminalEvent(outcome store.Outcome, fragments int) string {
	return fmt.Sprintf("%s%s:%d", progress.CompletePrefix, outcome, fragments)
}

// Delete removes a document from the store.
func (c *Coordinator) Delete(ctx context.Context, id store.Identity) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("document deleted", slog.String("identity", id.String()))
	return nil
}

// Supported reports whether the file type can be ingested.
func (c *Coordinator) Supported(name string) bool {
	return c.extractor.Supported(name)
}

func (c *Coordinator) publish(opID, msg string) {
	if opID == "" || c.progress == nil {
		return
	}
	c.progress.Publish(opID, msg)
}

func (c *Coordinator) fail(opID string, err error) error {
	slog.Warn("ingestion failed", slog.String("error", err.Error()))
	c.publish(opID, progress.ErrorPrefix+err.Error())
	return err
}

// hashContent returns the hex SHA-256 of the raw document bytes.
func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
