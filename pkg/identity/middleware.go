package identity

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wisbric/ragserver/internal/config"
)

// Gate bundles the identity extractor and rate limiter into one admission
// middleware.
type Gate struct {
	extractor *Extractor
	limiter   *Limiter
}

// NewGate builds a Gate from configuration.
func NewGate(cfg *config.Config) *Gate {
	window := time.Duration(cfg.RateLimitWindow) * time.Second
	minInterval := time.Duration(cfg.MinIntervalPerUser * float64(time.Second))
	return &Gate{
		extractor: NewExtractor(cfg),
		limiter:   NewLimiter(cfg.RateLimitTiers, window, minInterval, cfg.BucketTableMaxSize),
	}
}

// Middleware extracts identity, stores it in the request context, then
// admits or rejects the request. On rejection it responds 429 and never
// invokes the next handler.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := g.extractor.Extract(r)
		decision := g.limiter.Admit(r.Context(), id.UserID, id.Tier)

		ctx := NewContext(r.Context(), id)
		r = r.WithContext(ctx)

		if !decision.Accepted() {
			respondRejected(w, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func respondRejected(w http.ResponseWriter, d Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", d.RetryAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":    false,
		"error_code": "rate-limited",
		"reason":     string(d.Reason),
		"message":    rejectionMessage(d.Reason),
		"retry_at":   d.RetryAt.UTC(),
	})
}

func rejectionMessage(r Reason) string {
	switch r {
	case RejectInterval:
		return "requests from this identity must be spaced at least the configured minimum interval apart"
	default:
		return "rate limit exceeded for this tier"
	}
}
