package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/httprate"
)

// IdentityFunc picks the caller identity a scope is counted against
type IdentityFunc func(r *http.Request) string

// ByClientIP counts requests per client address
func ByClientIP(ipConfig *pkghttp.IPConfig) IdentityFunc {
	return func(r *http.Request) string {
		return pkghttp.ExtractClientIP(r, ipConfig)
	}
}

// BySessionOrClientIP counts authenticated callers per user and everyone
// else per address
func BySessionOrClientIP(ipConfig *pkghttp.IPConfig) IdentityFunc {
	return func(r *http.Request) string {
		if claims, ok := auth.SessionFromContext(r.Context()); ok {
			return "user:" + claims.SubjectID
		}
		return "ip:" + pkghttp.ExtractClientIP(r, ipConfig)
	}
}

// RateLimit admits requests through limiter under scope. Over the limit the
// caller gets 429 with Retry-After set to the window length.
func RateLimit(limiter *ratelimit.Limiter, scope string, identity IdentityFunc, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Admit(r.Context(), scope, identity(r))

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			}

			if !decision.Allowed {
				limited := &models.RateLimitedError{Scope: scope, RetryAfter: decision.RetryAfter}
				logger.Info("rate limit exceeded",
					slog.String("scope", scope),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				m.GateRejected("rate_limit", scope)
				pkghttp.WriteTooManyRequests(w, limited.Error(), limited.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OpsRateLimit is a coarse per-IP limit for health and metrics endpoints,
// kept apart from the application scopes. The key comes from the same
// trusted-proxy resolution as the application limiter.
func OpsRateLimit(requestsPerMinute int, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests", time.Minute)
		}),
	)
}
