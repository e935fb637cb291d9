// Package app wires every collaborator package into a running HTTP server:
// configuration, logging, tracing, the optional audit sink, the domain
// stores, and the admission gate. cmd/ragserver's main.go is a thin
// wrapper around Run.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/wisbric/ragserver/internal/audit"
	"github.com/wisbric/ragserver/internal/config"
	"github.com/wisbric/ragserver/internal/httpserver"
	"github.com/wisbric/ragserver/internal/platform"
	"github.com/wisbric/ragserver/internal/telemetry"
	"github.com/wisbric/ragserver/pkg/cache"
	"github.com/wisbric/ragserver/pkg/docstore"
	"github.com/wisbric/ragserver/pkg/identity"
	"github.com/wisbric/ragserver/pkg/intent"
	"github.com/wisbric/ragserver/pkg/kb"
	"github.com/wisbric/ragserver/pkg/llmclient"
	"github.com/wisbric/ragserver/pkg/lock"
	"github.com/wisbric/ragserver/pkg/orchestrator"
	"github.com/wisbric/ragserver/pkg/qastore"
	"github.com/wisbric/ragserver/pkg/retrieval"
)

// version is stamped into tracing resource attributes.
const version = "0.1.0"

// ErrBindFailure marks a listener bind failure so main.go can exit with a
// distinct status code from a generic runtime error.
var ErrBindFailure = errors.New("failed to bind http listener")

// Run reads cfg, connects every collaborator, and serves until ctx is
// canceled, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting ragserver", "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "ragserver", version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unreachable at startup, continuing with in-process cache/rate-limit state", "error", err)
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	}

	auditWriter, err := setupAudit(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setting up audit sink: %w", err)
	}
	if auditWriter != nil {
		auditWriter.Start(ctx)
		defer auditWriter.Close()
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	locks := lock.NewTable(parseDurationOr(cfg.LockTimeout, 30*time.Second))

	embedder := llmclient.NewHTTPEmbedder(llmclient.HTTPConfig{
		BaseURL:    cfg.EmbeddingAPIBase,
		APIKey:     cfg.EmbeddingAPIKey,
		Model:      cfg.EmbeddingModel,
		Timeout:    parseDurationOr(cfg.EmbeddingTimeout, 240*time.Second),
		MaxRetries: 3,
	}, cfg.EmbeddingDim)

	qaStore, err := qastore.New(cfg.QAStorageDir, embedder, locks)
	if err != nil {
		return fmt.Errorf("opening qa store: %w", err)
	}

	kbManager, err := kb.NewManager(cfg.WorkingDir, locks)
	if err != nil {
		return fmt.Errorf("opening knowledge base manager: %w", err)
	}

	docs := docstore.New(kbManager, embedder, locks)

	var reranker llmclient.Reranker
	if cfg.RerankEnabled {
		reranker = llmclient.NewHTTPReranker(llmclient.HTTPConfig{
			BaseURL:    cfg.LLMAPIBase,
			APIKey:     cfg.LLMAPIKey,
			Model:      cfg.RerankModel,
			Timeout:    parseDurationOr(cfg.RerankTimeout, 240*time.Second),
			MaxRetries: 3,
		})
	}

	retrievalEngine := retrieval.New(docs, docs, reranker, retrieval.TokenBudget{
		MaxTotalTokens:    8000,
		MaxEntityTokens:   2000,
		MaxRelationTokens: 2000,
	})

	completer := llmclient.NewHTTPCompleter(llmclient.HTTPConfig{
		BaseURL:    cfg.LLMAPIBase,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		Timeout:    parseDurationOr(cfg.LLMTimeout, 240*time.Second),
		MaxRetries: 3,
	})

	var llmClassifier intent.LLMClassifier
	if cfg.IntentEnableLLM {
		llmClassifier = intent.NewCompleterClassifier(completer)
	}

	vocab, err := loadVocabulary(cfg.IntentSensitiveVocabPath)
	if err != nil {
		logger.Warn("loading sensitive vocabulary, using defaults", "path", cfg.IntentSensitiveVocabPath, "error", err)
	}

	intentEngine := intent.New(intent.Options{
		Vocabulary:        vocab,
		LLM:               llmClassifier,
		LLMEnabled:        cfg.IntentEnableLLM,
		EnableEnhancement: cfg.IntentEnableEnhancement,
	})

	orch := orchestrator.New(intentEngine, retrievalEngine, completer)

	cacheCoordinator := cache.NewCoordinator(int64(cfg.PerCacheSizeLimitMB)<<20, 10_000)

	gate := identity.NewGate(cfg)

	srv := httpserver.NewServer(httpserver.Deps{
		Config:       cfg,
		Logger:       logger,
		Gate:         gate,
		KBManager:    kbManager,
		Docs:         docs,
		QA:           qaStore,
		IntentEngine: intentEngine,
		Orchestrator: orch,
		Cache:        cacheCoordinator,
		Audit:        auditWriter,
		MetricsReg:   metricsReg,
		LogTail:      func(n int) ([]string, error) { return telemetry.Tail(n), nil },
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ragserver listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%w: %v", ErrBindFailure, err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down ragserver")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// setupAudit opens the optional Postgres-backed audit sink when
// cfg.AuditDatabaseURL is configured, running its migrations first. A blank
// URL disables the sink; callers must treat a nil *audit.Writer as "no
// audit trail" rather than an error.
func setupAudit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*audit.Writer, error) {
	if cfg.AuditDatabaseURL == "" {
		logger.Info("audit sink disabled (AUDIT_DATABASE_URL not set)")
		return nil, nil
	}
	if err := platform.RunMigrations(cfg.AuditDatabaseURL, cfg.AuditMigrationDir); err != nil {
		return nil, fmt.Errorf("running audit migrations: %w", err)
	}
	pool, err := platform.NewPostgresPool(ctx, cfg.AuditDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to audit database: %w", err)
	}
	return audit.NewWriter(pool, logger), nil
}

// loadVocabulary reads a JSON-encoded intent.Vocabulary from path. An empty
// path means "use the built-in defaults" and is not an error.
func loadVocabulary(path string) (intent.Vocabulary, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vocab intent.Vocabulary
	if err := json.Unmarshal(raw, &vocab); err != nil {
		return nil, err
	}
	return vocab, nil
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
