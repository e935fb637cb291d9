// Package identity derives a stable caller identity from trusted proxy
// headers and enforces tiered admission control (token-bucket rate
// limiting plus a per-user minimum inter-arrival interval).
package identity

import (
	"context"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/wisbric/ragserver/internal/config"
)

// Identity is the derived caller identity for a single request.
type Identity struct {
	UserID string
	Tier   string
	// SourceIP is the raw peer address, except when UserID falls back to
	// the client address (step 4): then it is that address, which is the
	// resolved X-Forwarded-For address when the peer is trusted.
	SourceIP string
	// Method records which derivation step produced UserID, for logging.
	Method string
}

const (
	MethodHeader  = "header"
	MethodClient  = "client-id"
	MethodAuth    = "auth-token"
	MethodIP      = "source-ip"
	DefaultTier   = "default"
)

type contextKey string

const identityKey contextKey = "identity"

// NewContext stores identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context, or nil.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// TrustedProxies is a parsed CIDR/IP set checked against a peer address.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses the configured trusted_proxy_ips list. Malformed
// entries are skipped; misconfiguration is the caller's responsibility to
// log once at startup.
func NewTrustedProxies(cidrs []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if p, err := netip.ParsePrefix(c); err == nil {
			tp.prefixes = append(tp.prefixes, p)
			continue
		}
		if a, err := netip.ParseAddr(c); err == nil {
			tp.prefixes = append(tp.prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return tp
}

// Contains reports whether addr falls within any configured trusted prefix.
func (tp *TrustedProxies) Contains(addr netip.Addr) bool {
	for _, p := range tp.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Extractor derives identity from requests using a fixed precedence chain.
type Extractor struct {
	cfg     *config.Config
	trusted *TrustedProxies
}

// NewExtractor builds an Extractor from configuration.
func NewExtractor(cfg *config.Config) *Extractor {
	return &Extractor{cfg: cfg, trusted: NewTrustedProxies(cfg.TrustedProxyIPs)}
}

// Extract derives the identity for r. It never fails: header parsing errors
// fall back to the source IP.
func (e *Extractor) Extract(r *http.Request) *Identity {
	peer := peerAddr(r)
	trusted := e.cfg.EnableProxyHeaders && peer.IsValid() && e.trusted.Contains(peer)

	id := &Identity{Tier: e.deriveTier(r)}

	// 1. Configured user-id header, only when peer is trusted.
	if trusted {
		if v := strings.TrimSpace(r.Header.Get(e.cfg.UserIDHeader)); v != "" {
			id.UserID = v
			id.Method = MethodHeader
		}
	}

	// 2. Configured client-id header.
	if id.UserID == "" {
		if v := strings.TrimSpace(r.Header.Get(e.cfg.ClientIDHeader)); v != "" {
			id.UserID = v
			id.Method = MethodClient
		}
	}

	// 3. Authorization token or API key (hashed).
	if id.UserID == "" {
		if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
			id.UserID = "auth:" + hashToken(v)
			id.Method = MethodAuth
		}
	}

	// 4. Source IP, resolving X-Forwarded-For only when the peer is trusted.
	if id.UserID == "" {
		resolved := peer
		if trusted {
			if fwd := firstForwardedAddr(r); fwd.IsValid() {
				resolved = fwd
			}
		}
		id.UserID = resolved.String()
		id.SourceIP = resolved.String()
		id.Method = MethodIP
	} else {
		id.SourceIP = peer.String()
	}

	return id
}

// deriveTier reads the configured tier header; falls back to "default" when
// absent or not a recognized tier.
func (e *Extractor) deriveTier(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(e.cfg.UserTierHeader))
	if v == "" {
		return DefaultTier
	}
	if _, ok := e.cfg.RateLimitTiers[v]; !ok {
		return DefaultTier
	}
	return v
}

// hashToken hashes an Authorization value into a stable, non-reversible
// identity fingerprint rather than storing the raw credential.
func hashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:32]
}

// peerAddr parses r.RemoteAddr into a netip.Addr, stripping the port.
func peerAddr(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}

// firstForwardedAddr extracts the first hop of X-Forwarded-For, falling
// back to X-Real-IP.
func firstForwardedAddr(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}
	return netip.Addr{}
}
