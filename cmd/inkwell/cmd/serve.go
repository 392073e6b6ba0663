package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/internal/chunk"
	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/embed"
	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/logging"
	"github.com/inkwell-ai/inkwell/internal/profiling"
	"github.com/inkwell-ai/inkwell/internal/project"
	"github.com/inkwell-ai/inkwell/internal/rag"
	"github.com/inkwell-ai/inkwell/internal/rerank"
	"github.com/inkwell-ai/inkwell/internal/store"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var host string
	var port int
	var cpuProfile string
	var memProfile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inkwell HTTP server",
		Long: `Start the HTTP API: project management, outline/character generation,
chapter expansion, and retrieval inspection endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), host, port, cpuProfile, memProfile)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&memProfile, "memprofile", "", "Write a heap profile to this file on shutdown")

	return cmd
}

func runServe(ctx context.Context, host string, port int, cpuProfile, memProfile string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer logCleanup()
	slog.SetDefault(logger)

	profiler := profiling.NewProfiler()
	if cpuProfile != "" {
		stopCPU, err := profiler.StartCPU(cpuProfile)
		if err != nil {
			return err
		}
		defer stopCPU()
	}
	if memProfile != "" {
		defer func() {
			if err := profiler.WriteHeap(memProfile); err != nil {
				slog.Warn("heap_profile_failed", "error", err.Error())
			}
		}()
	}

	st, err := store.OpenSQLite(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	kw, err := store.NewKeywordIndex(cfg.Storage.KeywordBackend, st, filepath.Dir(cfg.Storage.DBPath))
	if err != nil {
		return err
	}
	defer func() { _ = kw.Close() }()

	embedder, embedNotes := embed.New(ctx, cfg.Embeddings, st, cfg.Retrieval.CacheSize)
	defer func() { _ = embedder.Close() }()

	reranker, rerankNotes := rerank.New(ctx, cfg.Rerank)

	vec, err := store.NewHNSWIndex(cfg.Storage.VectorDir, embedder.Dimensions())
	if err != nil {
		return err
	}
	defer func() { _ = vec.Close() }()

	ragSvc := rag.New(st, kw, vec, embedder, reranker,
		rag.WithChunkOptions(chunk.Options{
			MaxChars:     cfg.Retrieval.MaxChunkChars,
			OverlapRatio: cfg.Retrieval.OverlapRatio,
			SnippetChars: cfg.Retrieval.SnippetChars,
		}),
		rag.WithChannelDepths(cfg.Retrieval.TopKVector, cfg.Retrieval.TopKKeyword),
		rag.WithNotes(append(embedNotes, rerankNotes...)),
	)

	client := llm.New(cfg.LLM)
	criticLLM := strings.ToLower(cfg.Critic.Provider) == "llm" && !cfg.LLM.Mock
	projects := project.New(st, ragSvc, client, criticLLM, cfg.Critic.AutoRevise)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewServer(projects, ragSvc, cfg.Server.CORSOrigins).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_listening", "addr", srv.Addr, "db", cfg.Storage.DBPath,
			"vector_dir", cfg.Storage.VectorDir, "llm", client.ModelName())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server_shutdown_failed", "error", err.Error())
	}

	// Persist the vector index before the deferred closes run.
	if err := ragSvc.Save(); err != nil {
		slog.Warn("vector_save_failed", "error", err.Error())
	}
	slog.Info("server_stopped")
	return nil
}
