package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	stats, mem := s.cache.StatsAll()
	Respond(w, http.StatusOK, map[string]any{"caches": stats, "process_memory": mem})
}

func (s *Server) handleCacheClearAll(w http.ResponseWriter, _ *http.Request) {
	items, bytes := s.cache.ClearAll()
	Respond(w, http.StatusOK, map[string]any{"items_freed": items, "bytes_freed": bytes})
}

func (s *Server) handleCacheClearType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "type")
	items, bytes, err := s.cache.ClearType(name)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{"items_freed": items, "bytes_freed": bytes})
}
