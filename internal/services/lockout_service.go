package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

const lockReasonBruteForce = "too many failed login attempts"

// LockoutPolicy is the brute-force threshold
type LockoutPolicy struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

// DefaultLockoutPolicy is 5 failures in 15 minutes locks for 15 minutes
var DefaultLockoutPolicy = LockoutPolicy{
	MaxAttempts:  5,
	Window:       15 * time.Minute,
	LockDuration: 15 * time.Minute,
}

// LockoutService opens and releases time-boxed account locks
type LockoutService struct {
	policy      LockoutPolicy
	ledger      *LoginLedger
	locks       AccountLockRepository
	users       UserRepository
	alerts      *AlertService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewLockoutService(policy LockoutPolicy, ledger *LoginLedger, locks AccountLockRepository, users UserRepository, alerts *AlertService, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, m *metrics.Metrics) *LockoutService {
	return &LockoutService{
		policy:      policy,
		ledger:      ledger,
		locks:       locks,
		users:       users,
		alerts:      alerts,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		now:         time.Now,
	}
}

// IsLocked reports whether an active lock blocks userID right now
func (s *LockoutService) IsLocked(ctx context.Context, userID string) (models.LockStatus, error) {
	lock, err := s.locks.GetActive(ctx, userID, s.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.LockStatus{}, nil
		}
		return models.LockStatus{}, fmt.Errorf("failed to check account lock: %w", err)
	}

	until := lock.LockedUntil
	return models.LockStatus{Locked: true, LockedUntil: &until}, nil
}

// CheckAndLock locks the account behind email once its penalised failures
// in the trailing window reach the threshold. It reports whether this call
// created the lock; concurrent callers create at most one.
func (s *LockoutService) CheckAndLock(ctx context.Context, email string) (bool, error) {
	now := s.now()

	count, err := s.ledger.CountFailures(ctx, email, now.Add(-s.policy.Window))
	if err != nil {
		return false, err
	}
	if count < s.policy.MaxAttempts {
		return false, nil
	}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve user for lock: %w", err)
	}

	// failures from before an operator unlock do not carry over into a new lock
	releasedAt, err := s.locks.LastReleasedAt(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to read lock history: %w", err)
	}
	if releasedAt != nil && releasedAt.After(now.Add(-s.policy.Window)) {
		count, err = s.ledger.CountFailures(ctx, email, *releasedAt)
		if err != nil {
			return false, err
		}
		if count < s.policy.MaxAttempts {
			return false, nil
		}
	}

	lock, created, err := s.locks.CreateIfNoneActive(ctx, &models.AccountLock{
		UserID:      user.ID,
		LockedUntil: now.Add(s.policy.LockDuration),
		Reason:      lockReasonBruteForce,
	}, now)
	if err != nil {
		return false, fmt.Errorf("failed to create account lock: %w", err)
	}
	if !created {
		return false, nil
	}

	s.metrics.AccountLocked()
	s.logger.Warn("account locked",
		slog.String("user_id", user.ID),
		slog.Int("failures", count),
		slog.Time("locked_until", lock.LockedUntil),
	)
	s.auditLogger.LogLockEvent(ctx, "account_locked", user.ID, "", lock.LockedUntil)

	userID := user.ID
	_, _, err = s.alerts.Raise(ctx, &models.SecurityAlert{
		Type:     models.AlertTypeBruteForce,
		Severity: models.SeverityHigh,
		Message:  fmt.Sprintf("Account locked after %d failed login attempts", count),
		UserID:   &userID,
		Meta: models.AlertMeta{
			"failed_attempts": count,
			"window_minutes":  int(s.policy.Window / time.Minute),
			"locked_until":    lock.LockedUntil.UTC().Format(time.RFC3339),
		},
	}, s.policy.LockDuration)
	if err != nil {
		s.logger.Error("failed to raise brute force alert", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	return true, nil
}

// Unlock releases any active lock for userID at once. History is kept.
func (s *LockoutService) Unlock(ctx context.Context, userID, adminID string) (bool, error) {
	now := s.now()

	released, err := s.locks.ReleaseActive(ctx, userID, adminID, now)
	if err != nil {
		return false, fmt.Errorf("failed to release account lock: %w", err)
	}
	if !released {
		return false, nil
	}

	s.logger.Info("account unlocked", slog.String("user_id", userID), slog.String("admin_id", adminID))
	s.auditLogger.LogLockEvent(ctx, "account_unlocked", userID, adminID, now)
	return true, nil
}
