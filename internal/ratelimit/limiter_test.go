package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type failingStore struct{}

func (failingStore) Admit(context.Context, string, int, time.Duration) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLimiter_AppliesScopePolicy(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), map[string]Policy{
		ScopeLogin:  {Limit: 2, Window: time.Minute},
		ScopeGlobal: {Limit: 100, Window: time.Minute},
	}, discardLogger(), nil)
	ctx := context.Background()

	assert.True(t, limiter.Admit(ctx, ScopeLogin, "ip").Allowed)
	assert.True(t, limiter.Admit(ctx, ScopeLogin, "ip").Allowed)

	d := limiter.Admit(ctx, ScopeLogin, "ip")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	assert.True(t, limiter.Admit(ctx, ScopeGlobal, "ip").Allowed)
	assert.True(t, limiter.Admit(ctx, "unknown", "ip").Allowed)
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	limiter := NewLimiter(failingStore{}, map[string]Policy{
		ScopeGlobal: {Limit: 1, Window: time.Minute},
	}, discardLogger(), m)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Admit(context.Background(), ScopeGlobal, "ip").Allowed)
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(m.LimiterStoreErrorsTotal.WithLabelValues(ScopeGlobal)))
}
