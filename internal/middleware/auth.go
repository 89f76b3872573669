package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sesamelabs/sesame/internal/ctxkeys"
	"github.com/sesamelabs/sesame/internal/directory"
	"github.com/sesamelabs/sesame/internal/service"
)

// AuthMiddleware checks for a Bearer JWT and adds user + claims + session id
// to context if valid. A revoked session fails the check even when the JWT
// itself is still unexpired.
func AuthMiddleware(login *service.LoginService, sessions *service.SessionRegistry, dir directory.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := bearerToken(r)
			if bearer == "" {
				// No credential, continue without auth
				next.ServeHTTP(w, r)
				return
			}

			claims, err := login.VerifyJWT(bearer)
			if err != nil {
				// Invalid credential, continue without auth
				next.ServeHTTP(w, r)
				return
			}

			blocked, err := sessions.IsBlocked(bearer)
			if err != nil {
				slog.Error("session block check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if blocked {
				next.ServeHTTP(w, r)
				return
			}

			userID, ok := claims["user_id"].(string)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			user, err := dir.ByID(userID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if user.Blocked {
				next.ServeHTTP(w, r)
				return
			}

			sessions.Touch(bearer)

			ctx := ctxkeys.WithUser(r.Context(), user)
			ctx = ctxkeys.WithClaims(ctx, claims)
			if sessionID, ok := claims["session_id"].(string); ok {
				ctx = ctxkeys.WithSessionID(ctx, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth ensures the request carries a valid, unrevoked credential
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := ctxkeys.User(r.Context())
		if user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// RequireAdminKey gates admin endpoints on the deploy-time admin API key.
// When no key is configured the admin surface is disabled entirely.
func RequireAdminKey(adminKey string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				http.Error(w, "Not Found", http.StatusNotFound)
				return
			}
			if r.Header.Get("X-Admin-Key") != adminKey {
				slog.Warn("admin key rejected", "path", r.URL.Path, "ip", ctxkeys.ClientIP(r.Context()))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
