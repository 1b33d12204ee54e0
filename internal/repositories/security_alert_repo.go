package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const securityAlertNamespace = "security_alert"

const securityAlertColumns = `id, type, severity, message, user_id, meta, created_at, resolved_at, resolved_by`

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

type SecurityAlertRepository struct {
	db *database.DB
}

func NewSecurityAlertRepository(db *database.DB) *SecurityAlertRepository {
	return &SecurityAlertRepository{db: db}
}

func scanSecurityAlert(scanner rowScanner) (*models.SecurityAlert, error) {
	var alert models.SecurityAlert
	err := scanner.Scan(
		&alert.ID, &alert.Type, &alert.Severity, &alert.Message, &alert.UserID,
		&alert.Meta, &alert.CreatedAt, &alert.ResolvedAt, &alert.ResolvedBy,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &alert, nil
}

func insertAlert(ctx context.Context, q pgx.Tx, alert *models.SecurityAlert) (*models.SecurityAlert, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	if alert.Meta == nil {
		alert.Meta = models.AlertMeta{}
	}

	return scanSecurityAlert(q.QueryRow(ctx, `
		INSERT INTO security_alerts (id, type, severity, message, user_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+securityAlertColumns,
		alert.ID, alert.Type, alert.Severity, alert.Message, alert.UserID, alert.Meta, alert.CreatedAt,
	))
}

// CreateIfNoneOpen inserts alert unless an unresolved alert of the same type
// for the same user was created at or after since. Callers racing on the same
// (type, user) are serialised so only one insert wins.
func (r *SecurityAlertRepository) CreateIfNoneOpen(ctx context.Context, alert *models.SecurityAlert, since time.Time) (*models.SecurityAlert, bool, error) {
	var result *models.SecurityAlert
	var created bool

	key := alert.Type
	if alert.UserID != nil {
		key += ":" + *alert.UserID
	}

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.AdvisoryXactLock(ctx, tx, securityAlertNamespace, key); err != nil {
			return err
		}

		existing, err := scanSecurityAlert(tx.QueryRow(ctx, `
			SELECT `+securityAlertColumns+`
			FROM security_alerts
			WHERE type = $1
			  AND user_id IS NOT DISTINCT FROM $2
			  AND resolved_at IS NULL
			  AND created_at >= $3
			ORDER BY created_at DESC
			LIMIT 1
		`, alert.Type, alert.UserID, since))
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to check open alerts: %w", err)
		}

		inserted, err := insertAlert(ctx, tx, alert)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		result = inserted
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

// List returns alerts newest first
func (r *SecurityAlertRepository) List(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	query := `
		SELECT ` + securityAlertColumns + `
		FROM security_alerts
		WHERE (NOT $1 OR resolved_at IS NULL)
		  AND ($2 = '' OR user_id::text = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, filter.OpenOnly, filter.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.SecurityAlert, 0)
	for rows.Next() {
		alert, err := scanSecurityAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return alerts, nil
}

// Resolve closes an open alert. Returns ErrNotFound for unknown IDs and
// ErrConflict when the alert is already resolved.
func (r *SecurityAlertRepository) Resolve(ctx context.Context, id, resolvedBy string, at time.Time) (*models.SecurityAlert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	alert, err := scanSecurityAlert(r.db.Pool.QueryRow(ctx, `
		UPDATE security_alerts
		SET resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING `+securityAlertColumns,
		id, at, resolvedBy,
	))
	if err == nil {
		return alert, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM security_alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, models.ErrConflict
	}
	return nil, models.ErrNotFound
}
