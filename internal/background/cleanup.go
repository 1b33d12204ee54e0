package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
)

// LimiterSweeper drops stale in-process rate-limit windows
type LimiterSweeper interface {
	Sweep(now time.Time) int
}

// AttemptPurger deletes login attempts recorded before cutoff
type AttemptPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupManager periodically sweeps limiter state and purges login attempts
// past the retention period. Either target may be nil.
type CleanupManager struct {
	limiter   LimiterSweeper
	attempts  AttemptPurger
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	limiter LimiterSweeper,
	attempts AttemptPurger,
	retention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *CleanupManager {
	return &CleanupManager{
		limiter:   limiter,
		attempts:  attempts,
		retention: retention,
		interval:  interval,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every interval until ctx is done
// or Stop is called
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	now := cm.now()

	if cm.limiter != nil {
		if swept := cm.limiter.Sweep(now); swept > 0 {
			cm.metrics.LimiterSwept(swept)
			cm.logger.Debug("rate limit windows swept", slog.Int("windows", swept))
		}
	}

	if cm.attempts == nil || cm.retention <= 0 {
		return
	}

	purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.attempts.DeleteOlderThan(purgeCtx, now.Add(-cm.retention))
	if err != nil {
		cm.logger.Error("failed to purge login attempts", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.metrics.AttemptsPurged(rowsDeleted)
		cm.logger.Info("login attempt purge completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
