package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
)

// Policy is the limit applied to one scope
type Policy struct {
	Limit  int
	Window time.Duration
}

// Limiter applies per-scope policies on top of a Store. It fails open: when
// the store errors, the request is admitted and the failure is logged and
// counted.
type Limiter struct {
	store    Store
	policies map[string]Policy
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewLimiter(store Store, policies map[string]Policy, logger *slog.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{
		store:    store,
		policies: policies,
		logger:   logger,
		metrics:  m,
	}
}

// Admit checks identity against the scope's policy. Unknown scopes are admitted.
func (l *Limiter) Admit(ctx context.Context, scope, identity string) Decision {
	policy, ok := l.policies[scope]
	if !ok || policy.Limit <= 0 {
		return Decision{Allowed: true}
	}

	decision, err := l.store.Admit(ctx, Key(scope, identity), policy.Limit, policy.Window)
	if err != nil {
		l.logger.Warn("rate limiter store failed, admitting request",
			slog.String("scope", scope),
			slog.Any("error", err),
		)
		l.metrics.LimiterStoreError(scope)
		return Decision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit}
	}

	return decision
}
