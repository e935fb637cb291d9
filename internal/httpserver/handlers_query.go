package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wisbric/ragserver/internal/audit"
	"github.com/wisbric/ragserver/pkg/cache"
	"github.com/wisbric/ragserver/pkg/identity"
	"github.com/wisbric/ragserver/pkg/orchestrator"
	"github.com/wisbric/ragserver/pkg/retrieval"
)

// queryRequest is the wire shape accepted by /query, /query/analyze, and
// /query/safe. Fields absent from the body keep their zero value, which
// callers below turn into the service's own defaults.
type queryRequest struct {
	Query                  string            `json:"query" validate:"required"`
	Mode                   string            `json:"mode"`
	TopK                   int               `json:"top_k"`
	KnowledgeBase          string            `json:"knowledge_base"`
	Language               string            `json:"language"`
	Filters                map[string]string `json:"filters"`
	PerformanceMode        string            `json:"performance_mode"`
	EnableRerank           bool              `json:"enable_rerank"`
	EnableIntentAnalysis   bool              `json:"enable_intent_analysis"`
	EnableQueryEnhancement bool              `json:"enable_query_enhancement"`
	SafetyCheck            bool              `json:"safety_check"`
	Stream                 bool              `json:"stream"`
}

func (s *Server) toOrchestratorRequest(r *http.Request, q queryRequest) orchestrator.Request {
	id := identity.FromContext(r.Context())
	userID := ""
	if id != nil {
		userID = id.UserID
	}

	mode := retrieval.Mode(q.Mode)
	if mode == "" {
		mode = retrieval.Naive
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}
	kbName := q.KnowledgeBase
	if kbName == "" {
		kbName = s.kbManager.Current()
	}
	perf := retrieval.PerformanceMode(q.PerformanceMode)
	if perf == "" {
		perf = retrieval.Balanced
	}

	return orchestrator.Request{
		UserID:                 userID,
		Query:                  q.Query,
		Mode:                   mode,
		TopK:                   topK,
		KB:                     kbName,
		Language:               q.Language,
		Filters:                q.Filters,
		PerformanceMode:        perf,
		EnableRerank:           q.EnableRerank,
		EnableIntentAnalysis:   q.EnableIntentAnalysis,
		EnableQueryEnhancement: q.EnableQueryEnhancement,
		SafetyCheck:            q.SafetyCheck,
		Stream:                 q.Stream,
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q queryRequest
	if !DecodeAndValidate(w, r, &q) {
		return
	}
	req := s.toOrchestratorRequest(r, q)

	if req.Stream {
		s.streamOrchestrator(w, r, req)
		return
	}

	if cached, ok := s.lookupQueryCache(req); ok {
		Respond(w, http.StatusOK, cached)
		return
	}

	resp, err := s.orch.Execute(r.Context(), req)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	s.recordAudit(req, resp)
	body := queryResponseBody(resp)
	s.storeQueryCache(req, body)
	Respond(w, http.StatusOK, body)
}

func (s *Server) handleQueryAnalyze(w http.ResponseWriter, r *http.Request) {
	var q queryRequest
	if !DecodeAndValidate(w, r, &q) {
		return
	}
	req := s.toOrchestratorRequest(r, q)
	resp := s.orch.Analyze(r.Context(), req)
	Respond(w, http.StatusOK, map[string]any{"analysis": resp.Analysis})
}

func (s *Server) handleQuerySafe(w http.ResponseWriter, r *http.Request) {
	var q queryRequest
	if !DecodeAndValidate(w, r, &q) {
		return
	}
	req := s.toOrchestratorRequest(r, q)
	req.SafetyCheck = true

	if req.Stream {
		s.streamOrchestrator(w, r, req)
		return
	}

	resp, err := s.orch.Execute(r.Context(), req)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	s.recordAudit(req, resp)
	Respond(w, http.StatusOK, queryResponseBody(resp))
}

// recordAudit writes one entry to the optional audit sink for every
// admitted query and safety rejection. A nil sink (no AUDIT_DATABASE_URL
// configured) makes this a no-op.
func (s *Server) recordAudit(req orchestrator.Request, resp *orchestrator.Response) {
	if s.audit == nil {
		return
	}
	safetyLevel := ""
	if resp.Rejected && resp.Rejection != nil {
		safetyLevel = string(resp.Rejection.SafetyLevel)
	} else if resp.Analysis != nil {
		safetyLevel = string(resp.Analysis.SafetyLevel)
	}
	s.audit.Log(audit.Entry{
		UserID:        req.UserID,
		Query:         req.Query,
		Mode:          string(req.Mode),
		KnowledgeBase: req.KB,
		SafetyLevel:   safetyLevel,
		Rejected:      resp.Rejected,
		ElapsedSecs:   resp.ElapsedSecs,
	})
}

// queryCacheKey fingerprints the fields of req that determine its answer,
// so two requests differing only in, say, Stream still share a cache entry.
func queryCacheKey(req orchestrator.Request) string {
	return cache.FingerprintKey(
		req.Query, string(req.Mode), req.KB, req.Language, string(req.PerformanceMode),
		fmt.Sprintf("%d", req.TopK), fmt.Sprintf("%t", req.EnableRerank), fmt.Sprintf("%t", req.SafetyCheck),
		fmt.Sprintf("%t", req.EnableIntentAnalysis), fmt.Sprintf("%t", req.EnableQueryEnhancement),
	)
}

// lookupQueryCache consults the "queries" cache when caching is enabled.
// A miss, a disabled cache, or a decode failure all report ok=false.
func (s *Server) lookupQueryCache(req orchestrator.Request) (map[string]any, bool) {
	if s.cache == nil || !s.cfg.EnableCache {
		return nil, false
	}
	raw, hit, err := s.cache.Get(cache.Queries, queryCacheKey(req))
	if err != nil || !hit {
		return nil, false
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, false
	}
	return body, true
}

// storeQueryCache best-effort populates the "queries" cache; failures are
// not surfaced to the caller since the response has already been computed.
func (s *Server) storeQueryCache(req orchestrator.Request, body map[string]any) {
	if s.cache == nil || !s.cfg.EnableCache {
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return
	}
	ttl, err := time.ParseDuration(s.cfg.CacheTTL)
	if err != nil {
		ttl = time.Hour
	}
	_ = s.cache.Set(cache.Queries, queryCacheKey(req), raw, ttl)
}

func queryResponseBody(resp *orchestrator.Response) map[string]any {
	body := map[string]any{
		"should_reject": resp.Rejected,
		"elapsed_secs":  resp.ElapsedSecs,
	}
	if resp.Analysis != nil {
		body["analysis"] = resp.Analysis
	}
	if resp.Rejected && resp.Rejection != nil {
		body["safety_level"] = resp.Rejection.SafetyLevel
		body["safety_tips"] = resp.Rejection.Suggestions
		body["safe_alternatives"] = resp.Rejection.SafeAlternatives
		return body
	}
	if resp.Retrieval != nil {
		body["mode"] = resp.Retrieval.Mode
		body["chunks"] = resp.Retrieval.Chunks
		body["entities"] = resp.Retrieval.Entities
		body["relations"] = resp.Retrieval.Relations
	}
	body["answer"] = resp.Answer
	return body
}

type batchQueryRequest struct {
	Queries []queryRequest `json:"queries" validate:"required,min=1,max=50"`
}

func (s *Server) handleQueryBatch(w http.ResponseWriter, r *http.Request) {
	var body batchQueryRequest
	if !DecodeAndValidate(w, r, &body) {
		return
	}

	reqs := make([]orchestrator.Request, len(body.Queries))
	for i, q := range body.Queries {
		reqs[i] = s.toOrchestratorRequest(r, q)
	}

	results := s.orch.ExecuteBatch(r.Context(), reqs)
	out := make([]map[string]any, len(results))
	for i, res := range results {
		if res.Err != nil {
			out[i] = map[string]any{"index": res.Index, "error": res.Err.Error()}
			continue
		}
		entry := queryResponseBody(res.Response)
		entry["index"] = res.Index
		out[i] = entry
	}
	Respond(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleQueryModes(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]any{
		"modes":             []retrieval.Mode{retrieval.Naive, retrieval.Local, retrieval.Global, retrieval.Hybrid, retrieval.Mix, retrieval.Bypass},
		"performance_modes": []retrieval.PerformanceMode{retrieval.Fast, retrieval.Balanced, retrieval.Quality},
	})
}

// streamOrchestrator writes orchestrator.Event values as Server-Sent
// Events: "data: {...}\n\n" per event, flushing after each one so the
// client sees fragments as they're produced.
func (s *Server) streamOrchestrator(w http.ResponseWriter, r *http.Request, req orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal", "streaming unsupported by this transport")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := s.orch.ExecuteStream(r.Context(), req)
	for ev := range events {
		payload := sseEventPayload(ev)
		raw, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
	}
}

func sseEventPayload(ev orchestrator.Event) map[string]any {
	data := map[string]any{}
	switch ev.Type {
	case "metadata":
		data["mode"] = ev.Metadata.Mode
		data["knowledge_base"] = ev.Metadata.KB
		data["language"] = ev.Metadata.Language
		data["stream"] = ev.Metadata.Stream
	case "content":
		data["text"] = ev.Content
	case "done":
		data["elapsed_secs"] = ev.Elapsed
	case "error":
		data["error"] = ev.Err
	}
	return map[string]any{"type": ev.Type, "data": data}
}
