package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// LoginLedger is the append-only record of authentication attempts
type LoginLedger struct {
	repo   LoginAttemptRepository
	logger *slog.Logger
}

func NewLoginLedger(repo LoginAttemptRepository, logger *slog.Logger) *LoginLedger {
	return &LoginLedger{repo: repo, logger: logger}
}

// Record appends attempt. It never fails: a write error is logged and
// dropped so the login outcome is unaffected.
func (l *LoginLedger) Record(ctx context.Context, attempt models.LoginAttempt) {
	attempt.Email = normalizeEmail(attempt.Email)

	if err := l.repo.Record(ctx, &attempt); err != nil {
		l.logger.Error("failed to record login attempt",
			slog.String("email", pkglogger.SanitizedEmail(attempt.Email)),
			slog.Bool("success", attempt.Success),
			slog.Any("error", err),
		)
	}
}

// CountFailures counts penalised failures for email since the given time
func (l *LoginLedger) CountFailures(ctx context.Context, email string, since time.Time) (int, error) {
	count, err := l.repo.CountFailures(ctx, normalizeEmail(email), since)
	if err != nil {
		return 0, fmt.Errorf("failed to count login failures: %w", err)
	}
	return count, nil
}

// DistinctSuccessfulIPs returns the set of IPs userID logged in from since
// the given time
func (l *LoginLedger) DistinctSuccessfulIPs(ctx context.Context, userID string, since time.Time) ([]string, error) {
	ips, err := l.repo.DistinctSuccessfulIPs(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list successful ips: %w", err)
	}
	return ips, nil
}

// Recent feeds the admin audit view
func (l *LoginLedger) Recent(ctx context.Context, filter models.LoginAttemptFilter) ([]*models.LoginAttempt, error) {
	filter.Email = normalizeEmail(filter.Email)
	return l.repo.Recent(ctx, filter)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
