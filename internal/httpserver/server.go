package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisbric/ragserver/internal/audit"
	"github.com/wisbric/ragserver/internal/config"
	"github.com/wisbric/ragserver/internal/telemetry"
	"github.com/wisbric/ragserver/pkg/cache"
	"github.com/wisbric/ragserver/pkg/docstore"
	"github.com/wisbric/ragserver/pkg/identity"
	"github.com/wisbric/ragserver/pkg/intent"
	"github.com/wisbric/ragserver/pkg/kb"
	"github.com/wisbric/ragserver/pkg/orchestrator"
	"github.com/wisbric/ragserver/pkg/qastore"
)

// healthCheckBudget bounds the total time handleHealth spends probing
// dependencies.
const healthCheckBudget = 3 * time.Second

// Server holds the HTTP server and every domain dependency its handlers
// call into.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger

	gate         *identity.Gate
	kbManager    *kb.Manager
	docs         *docstore.Store
	qa           *qastore.Store
	intentEngine *intent.Engine
	orch         *orchestrator.Orchestrator
	cache        *cache.Coordinator
	audit        *audit.Writer
	cfg          *config.Config

	startedAt time.Time
	logTail   func(lines int) ([]string, error)
}

// Deps bundles every collaborator Server needs. Built by internal/app.
type Deps struct {
	Config       *config.Config
	Logger       *slog.Logger
	Gate         *identity.Gate
	KBManager    *kb.Manager
	Docs         *docstore.Store
	QA           *qastore.Store
	IntentEngine *intent.Engine
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Coordinator
	Audit        *audit.Writer
	MetricsReg   *prometheus.Registry
	LogTail      func(lines int) ([]string, error)
}

// NewServer wires middleware and every /api/v1 route onto a fresh router.
func NewServer(d Deps) *Server {
	s := &Server{
		Router:       chi.NewRouter(),
		Logger:       d.Logger,
		gate:         d.Gate,
		kbManager:    d.KBManager,
		docs:         d.Docs,
		qa:           d.QA,
		intentEngine: d.IntentEngine,
		orch:         d.Orchestrator,
		cache:        d.Cache,
		audit:        d.Audit,
		cfg:          d.Config,
		startedAt:    time.Now(),
		logTail:      d.LogTail,
	}

	s.Router.Use(telemetry.RequestID)
	s.Router.Use(telemetry.Logger(d.Logger))
	s.Router.Use(telemetry.Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Client-Id", "X-User-Tier", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)
	s.Router.Handle(d.Config.MetricsPath, promhttp.HandlerFor(d.MetricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(d.Gate.Middleware)

		r.Get("/system/status", s.handleSystemStatus)
		r.Get("/logs", s.handleLogs)

		r.Route("/query", func(r chi.Router) {
			r.Post("/", s.handleQuery)
			r.Post("/analyze", s.handleQueryAnalyze)
			r.Post("/safe", s.handleQuerySafe)
			r.Post("/batch", s.handleQueryBatch)
			r.Get("/modes", s.handleQueryModes)
		})

		r.Route("/insert", func(r chi.Router) {
			r.Post("/text", s.handleInsertText)
			r.Post("/texts", s.handleInsertTexts)
			r.Post("/file", s.handleInsertFile)
			r.Post("/files", s.handleInsertFiles)
			r.Post("/directory", s.handleInsertDirectory)
		})

		r.Route("/knowledge-bases", func(r chi.Router) {
			r.Get("/", s.handleListKBs)
			r.Post("/", s.handleCreateKB)
			r.Post("/switch", s.handleSwitchKB)
			r.Get("/current", s.handleCurrentKB)
			r.Delete("/{name}", s.handleDeleteKB)
			r.Put("/{name}/config", s.handleUpdateKBConfig)
			r.Post("/{name}/backup", s.handleBackupKB)
			r.Post("/{name}/restore", s.handleRestoreKB)
		})

		r.Route("/knowledge-graph", func(r chi.Router) {
			r.Post("/", s.handleGraphQuery)
			r.Get("/stats", s.handleGraphStats)
			r.Delete("/clear", s.handleGraphClear)
		})

		r.Route("/intent", func(r chi.Router) {
			r.Post("/analyze", s.handleIntentAnalyze)
			r.Post("/safety-check", s.handleIntentSafetyCheck)
			r.Post("/status", s.handleIntentStatus)
		})

		r.Route("/intent-config", func(r chi.Router) {
			r.Post("/templates", s.handleRegisterTemplate)
			r.Post("/vocabulary", s.handleRegisterVocabulary)
			r.Get("/status", s.handleIntentStatus)
		})

		r.Route("/qa", func(r chi.Router) {
			r.Post("/pairs", s.handleQAAdd)
			r.Get("/pairs", s.handleQAList)
			r.Post("/pairs/batch", s.handleQAAddBatch)
			r.Get("/pairs/{id}", s.handleQAGet)
			r.Delete("/pairs/{id}", s.handleQADelete)
			r.Post("/query", s.handleQAQuery)
			r.Post("/query/batch", s.handleQAQueryBatch)
			r.Post("/import", s.handleQAImport)
			r.Get("/export", s.handleQAExport)
			r.Get("/statistics", s.handleQAStatistics)
			r.Get("/categories", s.handleQACategories)
			r.Delete("/categories/{category}", s.handleQADeleteCategory)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Delete("/clear", s.handleCacheClearAll)
			r.Delete("/clear/{type}", s.handleCacheClearType)
		})

		r.Get("/audit-log", s.handleAuditLog)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// handleHealth probes the dependencies the service cannot serve a query
// without, within a fixed budget, and reports "degraded" naming the first
// one that fails rather than erroring out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckBudget)
	defer cancel()

	if s.kbManager == nil {
		Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "failing": "kb_manager"})
		return
	}

	if err := s.checkEmbeddingReachable(ctx); err != nil {
		Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "failing": "embedding_api", "error": err.Error()})
		return
	}

	if err := s.checkCacheResponsive(); err != nil {
		Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "failing": "cache", "error": err.Error()})
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// checkEmbeddingReachable dials the embedding API's host:port over TCP. An
// unconfigured base URL is treated as nothing to check, not a failure.
func (s *Server) checkEmbeddingReachable(ctx context.Context) error {
	base := s.cfg.EmbeddingAPIBase
	if base == "" {
		return nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parsing embedding api base: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", host, err)
	}
	return conn.Close()
}

// checkCacheResponsive round-trips a probe key through the coordinator's
// query cache, proving Get/Set aren't wedged.
func (s *Server) checkCacheResponsive() error {
	if s.cache == nil {
		return nil
	}
	const probeKey = "__health_probe__"
	if err := s.cache.Set(cache.Queries, probeKey, []byte("1"), time.Second); err != nil {
		return err
	}
	if _, _, err := s.cache.Get(cache.Queries, probeKey); err != nil {
		return err
	}
	return nil
}

type systemStatusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CurrentKB     string `json:"current_kb"`
	KBCount       int    `json:"kb_count"`
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, systemStatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		CurrentKB:     s.kbManager.Current(),
		KBCount:       len(s.kbManager.List()),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logTail == nil {
		Respond(w, http.StatusOK, map[string]any{"lines": []string{}})
		return
	}
	n := intQueryParam(r, "lines", 200)
	lines, err := s.logTail(n)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{"lines": lines})
}

func intQueryParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
