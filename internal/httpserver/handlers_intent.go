package httpserver

import (
	"net/http"

	"github.com/wisbric/ragserver/pkg/intent"
)

type intentAnalyzeRequest struct {
	Query string `json:"query" validate:"required"`
}

func (s *Server) handleIntentAnalyze(w http.ResponseWriter, r *http.Request) {
	var req intentAnalyzeRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	Respond(w, http.StatusOK, s.intentEngine.Analyze(r.Context(), req.Query))
}

type safetyCheckRequest struct {
	Content string `json:"content" validate:"required"`
}

func (s *Server) handleIntentSafetyCheck(w http.ResponseWriter, r *http.Request) {
	var req safetyCheckRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	Respond(w, http.StatusOK, s.intentEngine.SafetyCheck(req.Content))
}

// handleIntentStatus reports the engine's current runtime configuration,
// including the count of templates registered since startup.
func (s *Server) handleIntentStatus(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, s.intentEngine.Status())
}

type registerTemplateRequest struct {
	IntentType string `json:"intent_type" validate:"required"`
	Template   string `json:"template" validate:"required"`
}

// handleRegisterTemplate publishes a custom enhancement template for an
// intent type at runtime. The template body may reference the literal
// "{query}" placeholder, substituted with the original query at render
// time.
func (s *Server) handleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	var req registerTemplateRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	s.intentEngine.RegisterTemplateString(intent.Type(req.IntentType), req.Template)
	Respond(w, http.StatusOK, map[string]any{"registered": req.IntentType})
}

type registerVocabularyRequest struct {
	Vocabulary intent.Vocabulary `json:"vocabulary" validate:"required"`
}

// handleRegisterVocabulary replaces the sensitive-word vocabulary backing
// safety classification, taking effect for the next Analyze/SafetyCheck
// call onward.
func (s *Server) handleRegisterVocabulary(w http.ResponseWriter, r *http.Request) {
	var req registerVocabularyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	s.intentEngine.ReloadVocabulary(req.Vocabulary)
	Respond(w, http.StatusOK, map[string]any{"categories": len(req.Vocabulary)})
}
