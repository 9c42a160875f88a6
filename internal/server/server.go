// Package server exposes the indexing and retrieval pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/knosi-ai/knosid/internal/config"
	"github.com/knosi-ai/knosid/internal/embed"
	"github.com/knosi-ai/knosid/internal/ingest"
	"github.com/knosi-ai/knosid/internal/llm"
	"github.com/knosi-ai/knosid/internal/progress"
	"github.com/knosi-ai/knosid/internal/retrieve"
	"github.com/knosi-ai/knosid/internal/store"
)

const shutdownGrace = 10 * time.Second

// Server hosts the REST API.
type Server struct {
	cfg         *config.Config
	coordinator *ingest.Coordinator
	engine      *retrieve.Engine
	registry    *progress.Registry
	store       *store.Store
	embedder    embed.Embedder
	generator   llm.Generator
	httpSrv     *http.Server
}

// New assembles the API server around the pipeline components.
func New(cfg *config.Config, coordinator *ingest.Coordinator, engine *retrieve.Engine, registry *progress.Registry, st *store.Store, embedder embed.Embedder, generator llm.Generator) *Server {
	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
		engine:      engine,
		registry:    registry,
		store:       st,
		embedder:    embedder,
		generator:   generator,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin engine with all routes registered. Exposed so
// tests can drive the API through httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	{
		api.POST("/upload", s.handleUpload)
		api.GET("/upload/:id/progress", s.handleProgress)
		api.GET("/documents", s.handleListDocuments)
		api.DELETE("/documents/*path", s.handleDeleteDocument)
		api.GET("/search", s.handleSearch)
		api.POST("/chat", s.handleChat)
		api.GET("/status", s.handleStatus)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// requestLogger emits one slog line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		slog.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(started)))
	}
}
