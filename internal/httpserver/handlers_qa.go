package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/ragserver/pkg/qastore"
)

type addQAPairRequest struct {
	Question   string   `json:"question" validate:"required"`
	Answer     string   `json:"answer" validate:"required"`
	Category   string   `json:"category" validate:"required"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords"`
	Source     string   `json:"source"`
}

func (s *Server) handleQAAdd(w http.ResponseWriter, r *http.Request) {
	var req addQAPairRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	id, err := s.qa.Add(r.Context(), qastore.QAPair{
		Question:   req.Question,
		Answer:     req.Answer,
		Category:   req.Category,
		Confidence: req.Confidence,
		Keywords:   req.Keywords,
		Source:     req.Source,
	})
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleQAList(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	pairs, err := s.qa.List(r.Context(), category)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{"pairs": pairs})
}

type addQAPairBatchRequest struct {
	Pairs []addQAPairRequest `json:"pairs" validate:"required,min=1"`
}

func (s *Server) handleQAAddBatch(w http.ResponseWriter, r *http.Request) {
	var req addQAPairBatchRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	pairs := make([]qastore.QAPair, len(req.Pairs))
	for i, p := range req.Pairs {
		pairs[i] = qastore.QAPair{
			Question:   p.Question,
			Answer:     p.Answer,
			Category:   p.Category,
			Confidence: p.Confidence,
			Keywords:   p.Keywords,
			Source:     p.Source,
		}
	}

	result, err := s.qa.AddBatch(r.Context(), pairs)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusCreated, result)
}

func (s *Server) handleQAGet(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	id := chi.URLParam(r, "id")
	pair, err := s.qa.Get(r.Context(), category, id)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, pair)
}

func (s *Server) handleQADelete(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	id := chi.URLParam(r, "id")
	if err := s.qa.Delete(r.Context(), category, id); err != nil {
		RespondAppError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, "deleted qa pair "+id)
}

type qaQueryRequest struct {
	Question      string  `json:"question" validate:"required"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
	Category      string  `json:"category"`
}

func (s *Server) handleQAQuery(w http.ResponseWriter, r *http.Request) {
	var req qaQueryRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 1
	}
	result, err := s.qa.Query(r.Context(), req.Question, topK, req.MinSimilarity, req.Category)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, result)
}

type qaQueryBatchRequest struct {
	Queries []qaQueryRequest `json:"queries" validate:"required,min=1,max=50"`
}

func (s *Server) handleQAQueryBatch(w http.ResponseWriter, r *http.Request) {
	var req qaQueryBatchRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	out := make([]any, len(req.Queries))
	for i, q := range req.Queries {
		topK := q.TopK
		if topK <= 0 {
			topK = 1
		}
		result, err := s.qa.Query(r.Context(), q.Question, topK, q.MinSimilarity, q.Category)
		if err != nil {
			out[i] = map[string]any{"index": i, "error": err.Error()}
			continue
		}
		out[i] = map[string]any{"index": i, "result": result}
	}
	Respond(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleQAImport(w http.ResponseWriter, r *http.Request) {
	format := qastore.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = qastore.FormatJSON
	}
	overwrite := r.URL.Query().Get("overwrite_existing") == "true"

	result, err := s.qa.Import(r.Context(), format, r.Body, overwrite)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, result)
}

func (s *Server) handleQAExport(w http.ResponseWriter, r *http.Request) {
	format := qastore.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = qastore.FormatJSON
	}

	switch format {
	case qastore.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	if err := s.qa.Export(r.Context(), format, w); err != nil {
		s.Logger.Error("qa export failed mid-stream", "error", err)
	}
}

func (s *Server) handleQAStatistics(w http.ResponseWriter, r *http.Request) {
	threshold := 0.0
	if v := r.URL.Query().Get("similarity_threshold"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			threshold = parsed
		}
	}
	stats, err := s.qa.Statistics(r.Context(), threshold)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, stats)
}

func (s *Server) handleQACategories(w http.ResponseWriter, r *http.Request) {
	stats, err := s.qa.Statistics(r.Context(), 0)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{"categories": stats.Categories})
}

func (s *Server) handleQADeleteCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	result, err := s.qa.DeleteCategory(r.Context(), category)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, result)
}
