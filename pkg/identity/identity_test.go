package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/ragserver/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		EnableProxyHeaders: true,
		TrustedProxyIPs:    []string{"10.0.0.0/8"},
		UserIDHeader:       "X-User-Id",
		ClientIDHeader:     "X-Client-Id",
		UserTierHeader:     "X-User-Tier",
		RateLimitTiers:     map[string]int{"default": 30, "free": 10},
	}
}

// P1: identity precedence — trusted peer honors X-User-Id; untrusted peer
// falls back to the raw IP regardless of headers.
func TestExtractPrecedence(t *testing.T) {
	e := NewExtractor(testConfig())

	trusted := httptest.NewRequest(http.MethodGet, "/", nil)
	trusted.RemoteAddr = "10.1.2.3:5555"
	trusted.Header.Set("X-User-Id", "alice")
	id := e.Extract(trusted)
	if id.UserID != "alice" {
		t.Fatalf("expected trusted peer header to win, got %q", id.UserID)
	}

	untrusted := httptest.NewRequest(http.MethodGet, "/", nil)
	untrusted.RemoteAddr = "203.0.113.9:5555"
	untrusted.Header.Set("X-User-Id", "alice")
	id2 := e.Extract(untrusted)
	if id2.UserID != "203.0.113.9" {
		t.Fatalf("expected untrusted peer to fall back to IP, got %q", id2.UserID)
	}
}

func TestExtractTierFallsBackToDefault(t *testing.T) {
	e := NewExtractor(testConfig())
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-Tier", "unknown-tier")
	id := e.Extract(r)
	if id.Tier != DefaultTier {
		t.Fatalf("expected unknown tier to fall back to default, got %q", id.Tier)
	}
}

func TestExtractAuthorizationHashedFallback(t *testing.T) {
	e := NewExtractor(testConfig())
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("Authorization", "Bearer secret-token")
	id := e.Extract(r)
	if id.Method != MethodAuth {
		t.Fatalf("expected auth-token method, got %q", id.Method)
	}
	if id.UserID == "Bearer secret-token" {
		t.Fatal("expected token to be hashed, not stored raw")
	}
}
