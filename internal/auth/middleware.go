package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

type contextKey string

const sessionContextKey contextKey = "session"

// WithSession attaches claims to ctx
func WithSession(ctx context.Context, claims models.SessionClaims) context.Context {
	return context.WithValue(ctx, sessionContextKey, claims)
}

// SessionFromContext returns the caller's claims, if any
func SessionFromContext(ctx context.Context) (models.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionContextKey).(models.SessionClaims)
	return claims, ok
}

// SessionMiddleware resolves the caller's identity. An invalid or expired
// session is not an error here: the request simply continues without
// identity and any stale cookie is cleared. Refreshed claims are re-signed
// into the cookie and the X-Session-Token header.
func SessionMiddleware(sm *SessionManager, cookies CookieConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionTokenFromRequest(r, cookies.Name)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, refreshedToken, err := sm.Authenticate(r.Context(), token)
			if err != nil {
				logger.Debug("session rejected", slog.Any("error", err))
				if _, cookieErr := r.Cookie(cookies.Name); cookieErr == nil {
					ClearSessionCookie(w, cookies)
				}
				next.ServeHTTP(w, r)
				return
			}

			if refreshedToken != "" {
				SetSessionCookie(w, refreshedToken, sm.ExpiresAt(claims), cookies)
				w.Header().Set(SessionTokenHeader, refreshedToken)
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), claims)))
		})
	}
}

// RequireSession rejects callers without a valid session
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits only sessions whose (re-verified) role matches
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := SessionFromContext(r.Context())
			if !ok {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			if claims.Role != role {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
