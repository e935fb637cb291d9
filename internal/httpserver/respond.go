package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wisbric/ragserver/internal/apperr"
)

// Envelope is the response shape every non-streaming JSON endpoint returns.
// Streaming endpoints write Server-Sent Events instead; see
// streamOrchestrator in handlers_query.go.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Respond writes data as a successful JSON envelope.
func Respond(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Envelope{Success: true, Data: data, Timestamp: now()})
}

// RespondMessage writes a successful envelope carrying only a message, no data.
func RespondMessage(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, Envelope{Success: true, Message: message, Timestamp: now()})
}

// RespondError writes a failed JSON envelope with a machine-readable code.
func RespondError(w http.ResponseWriter, status int, errorCode, message string) {
	writeEnvelope(w, status, Envelope{Success: false, Message: message, ErrorCode: errorCode, Timestamp: now()})
}

// RespondErrorDetails is RespondError plus a details payload (e.g. field
// validation errors, or safety_tips/safe_alternatives on a safety rejection).
func RespondErrorDetails(w http.ResponseWriter, status int, errorCode, message string, details any) {
	writeEnvelope(w, status, Envelope{Success: false, Message: message, ErrorCode: errorCode, Details: details, Timestamp: now()})
}

// RespondAppError classifies err via apperr and writes the matching status,
// error code, and message. Every handler that surfaces a domain error goes
// through this so the taxonomy in internal/apperr stays the single source
// of truth for status mapping.
func RespondAppError(w http.ResponseWriter, err error) {
	e := apperr.Classify(err)
	RespondError(w, e.Status(), string(e.Code), e.Message)
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// now is a var so tests can override it; production always uses wall-clock time.
var now = func() string { return time.Now().UTC().Format(time.RFC3339) }
