package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Config holds the HTTP-level settings the router needs
type Config struct {
	Env              string
	AllowedOrigins   []string
	OpsRatePerMinute int
	IPConfig         *pkghttp.IPConfig
	Cookies          auth.CookieConfig
}

// Handlers groups the endpoint handlers
type Handlers struct {
	Auth      *handlers.AuthHandler
	TwoFactor *handlers.TwoFactorHandler
	Admin     *handlers.AdminHandler
	Health    *handlers.HealthHandler
}

// NewRouter builds the full middleware chain and route table.
//
// Every request passes request id, security headers, CORS, access logging,
// metrics and the pattern filter. API routes then pass the global limit and
// session resolution before any per-route scope limit and role gate. Ops
// routes (/health, /metrics) use a coarse per-IP limiter instead.
func NewRouter(cfg Config, h Handlers, sessions *auth.SessionManager, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Env}))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins)))
	router.Use(middleware.SecureLogger(logger, cfg.IPConfig))
	router.Use(m.Middleware)
	router.Use(middleware.RequestFilter(logger, m))

	router.Group(func(r chi.Router) {
		r.Use(middleware.OpsRateLimit(cfg.OpsRatePerMinute, cfg.IPConfig))
		r.Get("/health", h.Health.Health)
		if m != nil {
			r.Handle("/metrics", m.Handler())
		}
	})

	rateLimit := func(scope string, identity middleware.IdentityFunc) func(http.Handler) http.Handler {
		return middleware.RateLimit(limiter, scope, identity, logger, m)
	}

	router.Group(func(r chi.Router) {
		r.Use(rateLimit(ratelimit.ScopeGlobal, middleware.ByClientIP(cfg.IPConfig)))
		r.Use(auth.SessionMiddleware(sessions, cfg.Cookies, logger))

		r.Route("/auth", func(r chi.Router) {
			r.With(rateLimit(ratelimit.ScopeLogin, middleware.ByClientIP(cfg.IPConfig))).Post("/login", h.Auth.Login)
			r.Post("/logout", h.Auth.Logout)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireSession)
				r.Get("/session", h.Auth.Session)

				r.Get("/2fa", h.TwoFactor.Status)
				r.Post("/2fa/setup", h.TwoFactor.Setup)
				r.Post("/2fa/confirm", h.TwoFactor.Confirm)
				r.Post("/2fa/disable", h.TwoFactor.Disable)
				r.Post("/2fa/recovery-codes", h.TwoFactor.RegenerateRecoveryCodes)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(rateLimit(ratelimit.ScopeAdminAPI, middleware.BySessionOrClientIP(cfg.IPConfig)))
			r.Use(auth.RequireSession)
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Get("/alerts", h.Admin.ListAlerts)
			r.Post("/alerts/{id}/resolve", h.Admin.ResolveAlert)
			r.Get("/login-attempts", h.Admin.ListLoginAttempts)
			r.Get("/users/{id}/lock", h.Admin.GetUserLock)
			r.Post("/users/{id}/unlock", h.Admin.UnlockUser)
		})
	})

	return router
}
