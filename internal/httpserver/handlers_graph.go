package httpserver

import "net/http"

type graphQueryRequest struct {
	Query         string `json:"query" validate:"required"`
	KnowledgeBase string `json:"knowledge_base"`
	Depth         int    `json:"depth"`
}

func (s *Server) handleGraphQuery(w http.ResponseWriter, r *http.Request) {
	var req graphQueryRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	entities, relations, err := s.docs.Traverse(r.Context(), s.kbOrCurrent(req.KnowledgeBase), req.Query, req.Depth)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{"entities": entities, "relations": relations})
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	kbName := s.kbOrCurrent(r.URL.Query().Get("knowledge_base"))
	nodes, edges, err := s.docs.GraphStats(r.Context(), kbName)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]int{"node_count": nodes, "edge_count": edges})
}

func (s *Server) handleGraphClear(w http.ResponseWriter, r *http.Request) {
	kbName := s.kbOrCurrent(r.URL.Query().Get("knowledge_base"))
	if err := s.docs.ClearGraph(r.Context(), kbName); err != nil {
		RespondAppError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, "cleared knowledge graph for "+kbName)
}
