package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const clientIPContextKey contextKey = "client_ip"

// ClientIP resolves the address a request came from. Forwarding headers are
// read only when the direct peer is a trusted proxy; otherwise the peer
// address is the client.
type ClientIP struct {
	trusted []*net.IPNet
}

// NewClientIP creates a resolver. trustedProxies holds IPs or CIDRs.
func NewClientIP(trustedProxies []string, logger zerolog.Logger) *ClientIP {
	c := &ClientIP{trusted: parseNets(trustedProxies, logger)}
	if len(c.trusted) > 0 {
		logger.Info().Int("proxies", len(c.trusted)).Msg("trusted proxies configured")
	}
	return c
}

// parseNets turns IPs and CIDRs into networks, skipping invalid entries.
func parseNets(entries []string, logger zerolog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR")
				continue
			}
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			logger.Warn().Str("entry", entry).Msg("invalid IP")
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
		bits := len(ip) * 8
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

func containsIP(nets []*net.IPNet, ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the client IP for r.
func (c *ClientIP) Resolve(r *http.Request) string {
	peer := peerIP(r)
	if !containsIP(c.trusted, peer) {
		return peer
	}

	if ip := strings.TrimSpace(r.Header.Get("Fly-Client-IP")); ip != "" {
		return ip
	}
	// Walk X-Forwarded-For from the nearest hop; the first address not
	// belonging to a trusted proxy is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !containsIP(c.trusted, hop) || i == 0 {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}

// Middleware stores the resolved client IP on the request context.
func (c *ClientIP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPContextKey, c.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RealIP returns the client IP resolved by ClientIP.Middleware, or the direct
// peer when the middleware did not run.
func RealIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey).(string); ok && ip != "" {
		return ip
	}
	return peerIP(r)
}

func peerIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
