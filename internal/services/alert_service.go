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

const notifyTimeout = 10 * time.Second

// AlertService owns the security alert feed
type AlertService struct {
	repo        SecurityAlertRepository
	notifier    AlertNotifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	now         func() time.Time
	runAsync    func(func())
}

func NewAlertService(repo SecurityAlertRepository, notifier AlertNotifier, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, m *metrics.Metrics) *AlertService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &AlertService{
		repo:        repo,
		notifier:    notifier,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		now:         time.Now,
		runAsync:    func(fn func()) { go fn() },
	}
}

// Raise creates alert unless an unresolved alert of the same type for the
// same user was raised within dedupWindow. It reports whether a new alert
// was created; only new alerts are counted and notified.
func (s *AlertService) Raise(ctx context.Context, alert *models.SecurityAlert, dedupWindow time.Duration) (*models.SecurityAlert, bool, error) {
	now := s.now()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	if alert.Meta == nil {
		alert.Meta = models.AlertMeta{}
	}

	stored, created, err := s.repo.CreateIfNoneOpen(ctx, alert, now.Add(-dedupWindow))
	if err != nil {
		return nil, false, fmt.Errorf("failed to raise %s alert: %w", alert.Type, err)
	}
	if !created {
		s.logger.Debug("alert suppressed by open duplicate",
			slog.String("type", alert.Type),
			slog.String("existing_id", stored.ID),
		)
		return stored, false, nil
	}

	s.metrics.AlertRaised(stored.Type)
	s.logger.Warn("security alert raised",
		slog.String("alert_id", stored.ID),
		slog.String("type", stored.Type),
		slog.String("severity", stored.Severity),
	)

	s.runAsync(func() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(notifyCtx, stored); err != nil {
			s.logger.Error("failed to notify security alert",
				slog.String("alert_id", stored.ID),
				slog.Any("error", err),
			)
		}
	})

	return stored, true, nil
}

// List returns the alert feed, newest first
func (s *AlertService) List(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
	alerts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// Resolve closes an alert on behalf of an operator. Resolving twice is
// ErrConflict.
func (s *AlertService) Resolve(ctx context.Context, alertID, adminID string) (*models.SecurityAlert, error) {
	alert, err := s.repo.Resolve(ctx, alertID, adminID, s.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	s.auditLogger.LogAdminAction(ctx, "alert_resolved", adminID, map[string]string{
		"alert_id": alert.ID,
		"type":     alert.Type,
	})
	return alert, nil
}
