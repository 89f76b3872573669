package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sesamelabs/sesame/internal/ctxkeys"
	"github.com/sesamelabs/sesame/internal/repository"
)

// ClientIP resolves the real client IP once per request and stores it in
// the context for handlers and the rate limiter.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxkeys.WithClientIP(r.Context(), getClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BlockBannedIPs rejects requests from addresses on the ban list before any
// auth work happens. Lookup errors fail open.
func BlockBannedIPs(bans repository.BannedIPRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ctxkeys.ClientIP(r.Context())
			if ip == "" {
				ip = getClientIP(r)
			}

			banned, err := bans.Exists(ip)
			if err != nil {
				slog.Error("banned ip lookup failed", "error", err, "ip", ip)
				next.ServeHTTP(w, r)
				return
			}
			if banned {
				slog.Warn("blocked banned ip", "ip", ip, "path", r.URL.Path)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts real client IP from request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (proxy/load balancer)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// Take first IP in list
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	// Remove port if present
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	return ip
}
