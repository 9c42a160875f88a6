package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/knosi-ai/knosid/internal/chunk"
	"github.com/knosi-ai/knosid/internal/config"
	"github.com/knosi-ai/knosid/internal/embed"
	"github.com/knosi-ai/knosid/internal/extract"
	"github.com/knosi-ai/knosid/internal/ingest"
	"github.com/knosi-ai/knosid/internal/llm"
	"github.com/knosi-ai/knosid/internal/logging"
	"github.com/knosi-ai/knosid/internal/progress"
	"github.com/knosi-ai/knosid/internal/retrieve"
	"github.com/knosi-ai/knosid/internal/server"
	"github.com/knosi-ai/knosid/internal/store"
	"github.com/knosi-ai/knosid/pkg/version"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the indexing and retrieval server",
		Long: `Start the HTTP server. Documents are stored under the configured
data directory; only one server instance may use a data directory at
a time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.Storage.DataDir)
	logCfg.Level = cfg.Logging.Level
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	slog.Info("starting knosid",
		slog.String("version", version.Version),
		slog.String("data_dir", cfg.Storage.DataDir))

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	st, err := store.Open(cfg.Storage.DataDir, embedder.Dimensions())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	chunker, err := chunk.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return err
	}

	var parser extract.Parser
	if cfg.Parser.URL != "" {
		parser = extract.NewHTTPParser(cfg.Parser.URL, time.Duration(cfg.Parser.TimeoutSec)*time.Second)
	}
	gateway := extract.NewGateway(parser)

	registry := progress.NewRegistry(progress.DefaultTTL)
	defer registry.Close()

	generator := llm.NewOllamaGenerator(cfg.Chat.BaseURL, cfg.Chat.Model,
		time.Duration(cfg.Chat.TimeoutSec)*time.Second)

	coordinator := ingest.NewCoordinator(gateway, chunker, embedder, st, registry)
	engine := retrieve.NewEngine(embedder, st, generator, cfg.Chat.TopK, cfg.Chat.ContextBudget)
	srv := server.New(cfg, coordinator, engine, registry, st, embedder, generator)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		// One-shot readiness probe; the server starts regardless so
		// documents can be managed while the model host is down.
		if !embedder.Available(gctx) {
			slog.Warn("embedding backend not reachable, uploads will fail until it is",
				slog.String("model", embedder.ModelName()))
		}
		return nil
	})
	return g.Wait()
}
