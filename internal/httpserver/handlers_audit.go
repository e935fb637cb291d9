package httpserver

import "net/http"

// handleAuditLog lists recent audit entries. Returns an empty list when no
// audit sink is configured, rather than an error, since the audit trail is
// optional ambient infrastructure.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		Respond(w, http.StatusOK, map[string]any{"entries": []string{}})
		return
	}
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad-input", err.Error())
		return
	}
	entries, err := s.audit.List(r.Context(), params.PageSize)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{"entries": entries})
}
