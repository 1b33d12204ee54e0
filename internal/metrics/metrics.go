package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginOutcomesTotal        *prometheus.CounterVec
	AccountLocksTotal         prometheus.Counter
	SecurityAlertsTotal       *prometheus.CounterVec
	SessionRevalidationsTotal *prometheus.CounterVec
	RecoveryCodesUsedTotal    prometheus.Counter

	// Gate metrics
	GateRejectionsTotal      *prometheus.CounterVec
	LimiterStoreErrorsTotal  *prometheus.CounterVec
	LimiterEntriesSwept      prometheus.Counter
	LoginAttemptsPurgedTotal prometheus.Counter
}

// New creates and registers all collectors on registry
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bastion_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bastion_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LoginOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bastion_login_outcomes_total",
				Help: "Authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		AccountLocksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bastion_account_locks_total",
				Help: "Account locks created after repeated failures",
			},
		),
		SecurityAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bastion_security_alerts_total",
				Help: "Security alerts raised, by type",
			},
			[]string{"type"},
		),
		SessionRevalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bastion_session_revalidations_total",
				Help: "Session re-verifications against the user record, by result",
			},
			[]string{"result"},
		),
		RecoveryCodesUsedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bastion_recovery_codes_used_total",
				Help: "Recovery codes consumed",
			},
		),

		GateRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bastion_gate_rejections_total",
				Help: "Requests rejected by the request gate",
			},
			[]string{"reason", "scope"},
		),
		LimiterStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bastion_limiter_store_errors_total",
				Help: "Rate limiter store failures (request admitted)",
			},
			[]string{"scope"},
		),
		LimiterEntriesSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bastion_limiter_entries_swept_total",
				Help: "Stale rate limiter entries removed",
			},
		),
		LoginAttemptsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bastion_login_attempts_purged_total",
				Help: "Login attempts deleted by the retention sweep",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginOutcomesTotal,
		m.AccountLocksTotal,
		m.SecurityAlertsTotal,
		m.SessionRevalidationsTotal,
		m.RecoveryCodesUsedTotal,
		m.GateRejectionsTotal,
		m.LimiterStoreErrorsTotal,
		m.LimiterEntriesSwept,
		m.LoginAttemptsPurgedTotal,
	)

	return m
}

func (m *Metrics) LoginOutcome(outcome string) {
	if m == nil {
		return
	}
	m.LoginOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AccountLocked() {
	if m == nil {
		return
	}
	m.AccountLocksTotal.Inc()
}

func (m *Metrics) AlertRaised(alertType string) {
	if m == nil {
		return
	}
	m.SecurityAlertsTotal.WithLabelValues(alertType).Inc()
}

func (m *Metrics) SessionRevalidated(result string) {
	if m == nil {
		return
	}
	m.SessionRevalidationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecoveryCodeUsed() {
	if m == nil {
		return
	}
	m.RecoveryCodesUsedTotal.Inc()
}

func (m *Metrics) GateRejected(reason, scope string) {
	if m == nil {
		return
	}
	m.GateRejectionsTotal.WithLabelValues(reason, scope).Inc()
}

func (m *Metrics) LimiterStoreError(scope string) {
	if m == nil {
		return
	}
	m.LimiterStoreErrorsTotal.WithLabelValues(scope).Inc()
}

func (m *Metrics) LimiterSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LimiterEntriesSwept.Add(float64(n))
}

func (m *Metrics) AttemptsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.LoginAttemptsPurgedTotal.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments requests by chi route pattern so path parameters
// do not explode label cardinality
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
