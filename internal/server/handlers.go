package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	kerrors "github.com/knosi-ai/knosid/internal/errors"
	"github.com/knosi-ai/knosid/internal/ingest"
	"github.com/knosi-ai/knosid/internal/store"
)

// sseKeepalive is the interval between comment frames that keep idle
// progress streams open through proxies.
const sseKeepalive = 15 * time.Second

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// writeError renders a KnosiError as JSON with the mapped status code.
func writeError(c *gin.Context, err error) {
	status := kerrors.HTTPStatus(err)
	body := errorBody{Code: kerrors.GetCode(err), Message: err.Error()}
	if ke, ok := err.(*kerrors.KnosiError); ok {
		body.Message = ke.Message
		body.Details = ke.Details
	}
	if body.Code == "" {
		body.Code = kerrors.ErrCodeInternal
	}
	c.JSON(status, gin.H{"error": body})
}

type uploadResponse struct {
	OperationID string `json:"operation_id"`
	Path        string `json:"path"`
	Collection  string `json:"collection,omitempty"`
}

// handleUpload accepts a multipart document, validates it, and kicks
// off ingestion in the background. Progress is observable under the
// returned operation ID.
func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes())

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			writeError(c, s.tooLarge(err))
			return
		}
		writeError(c, kerrors.ValidationError("multipart field 'file' is required", err))
		return
	}
	defer func() { _ = file.Close() }()

	path := strings.TrimSpace(c.PostForm("path"))
	if path == "" {
		path = header.Filename
	}
	if path == "" {
		writeError(c, kerrors.ValidationError("document path could not be determined", nil))
		return
	}
	if header.Size > s.cfg.MaxUploadBytes() {
		writeError(c, s.tooLarge(nil))
		return
	}
	if !s.coordinator.Supported(path) {
		writeError(c, kerrors.UnsupportedType(extension(path)))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		if isTooLarge(err) {
			writeError(c, s.tooLarge(err))
			return
		}
		writeError(c, kerrors.InternalError("failed to read upload", err))
		return
	}

	opID := strings.TrimSpace(c.PostForm("upload_id"))
	if opID == "" {
		opID = uuid.NewString()
	}
	collection := strings.TrimSpace(c.PostForm("collection"))

	s.registry.Register(opID)

	req := ingest.Request{
		Identity:    store.Identity{Collection: collection, Path: path},
		Data:        data,
		OperationID: opID,
	}
	go func() {
		// The upload request returns immediately; ingestion outlives it.
		if _, err := s.coordinator.Ingest(context.Background(), req); err != nil {
			slog.Warn("background ingestion failed",
				slog.String("operation_id", opID),
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}()

	c.JSON(http.StatusAccepted, uploadResponse{OperationID: opID, Path: path, Collection: collection})
}

// handleProgress streams ingestion events for one operation as SSE.
// History is replayed first, so late subscribers see every phase.
func (s *Server) handleProgress(c *gin.Context) {
	opID := c.Param("id")
	events, cancel, ok := s.registry.Subscribe(opID)
	if !ok {
		writeError(c, kerrors.NotFound(opID))
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, open := <-events:
			if !open {
				return
			}
			c.SSEvent("progress", msg)
			c.Writer.Flush()
		case <-ticker.C:
			// Comment frame, ignored by EventSource clients
			_, _ = fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

type documentView struct {
	Path          string    `json:"path"`
	Collection    string    `json:"collection,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	FragmentCount int       `json:"fragment_count"`
	IndexedAt     time.Time `json:"indexed_at"`
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.store.ListDocuments(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]documentView, len(docs))
	for i, d := range docs {
		views[i] = documentView{
			Path:          d.Identity.Path,
			Collection:    d.Identity.Collection,
			SizeBytes:     d.SizeBytes,
			FragmentCount: d.FragmentCount,
			IndexedAt:     d.IndexedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"documents": views, "count": len(views)})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		writeError(c, kerrors.ValidationError("document path is required", nil))
		return
	}
	id := store.Identity{Collection: c.Query("collection"), Path: path}

	if err := s.coordinator.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": path})
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, kerrors.ValidationError("limit must be a positive integer", err))
			return
		}
		limit = parsed
	}

	results, err := s.engine.Search(c.Request.Context(), query, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

type chatRequest struct {
	Message        string `json:"message"`
	IncludeSources bool   `json:"include_sources"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, kerrors.ValidationError("invalid chat request body", err))
		return
	}

	answer, err := s.engine.Chat(c.Request.Context(), req.Message, req.IncludeSources)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (s *Server) handleStatus(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	embeddingReady := s.embedder.Available(c.Request.Context())
	status := "ok"
	if !embeddingReady {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"document_count":  stats.Documents,
		"fragment_count":  stats.Fragments,
		"embedding_model": s.embedder.ModelName(),
		"embedding_ready": embeddingReady,
		"chat_model":      s.generator.ModelName(),
	})
}

func (s *Server) tooLarge(cause error) error {
	return kerrors.New(kerrors.ErrCodeFileTooLarge,
		fmt.Sprintf("upload exceeds %d MB limit", s.cfg.Server.MaxUploadMB), cause)
}

// isTooLarge detects MaxBytesReader truncation, which the multipart
// reader surfaces wrapped in its own error text.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func extension(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}
