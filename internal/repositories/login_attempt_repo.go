package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

// LoginAttemptRepository is the append-only ledger of authentication attempts
type LoginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: db.Pool}
}

// Record appends an attempt. ID and AttemptedAt are filled in when empty.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now()
	}

	query := `
		INSERT INTO login_attempts (id, email, ip_address, user_agent, success, user_id, failure_reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		attempt.ID,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.UserID,
		attempt.FailureReason,
		attempt.AttemptedAt,
	)
	return database.MapPostgresError(err)
}

// CountFailures counts failed attempts for email since the given time that
// count toward a lock
func (r *LoginAttemptRepository) CountFailures(ctx context.Context, email string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = $1
		  AND success = false
		  AND attempted_at >= $2
		  AND (failure_reason IS NULL OR failure_reason <> ALL($3))
	`

	var count int
	err := r.pool.QueryRow(ctx, query, email, since, models.UnpenalizedFailureReasons).Scan(&count)
	return count, err
}

// DistinctSuccessfulIPs lists the IPs a user has logged in from since the given time
func (r *LoginAttemptRepository) DistinctSuccessfulIPs(ctx context.Context, userID string, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT ip_address FROM login_attempts
		WHERE user_id = $1 AND success = true AND attempted_at >= $2
	`

	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query successful ips: %w", err)
	}

	ips, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect successful ips: %w", err)
	}
	return ips, nil
}

// Recent returns the newest attempts first
func (r *LoginAttemptRepository) Recent(ctx context.Context, filter models.LoginAttemptFilter) ([]*models.LoginAttempt, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAttemptLimit
	}
	if limit > maxAttemptLimit {
		limit = maxAttemptLimit
	}

	query := `
		SELECT id, email, ip_address, user_agent, success, user_id, failure_reason, attempted_at
		FROM login_attempts
		WHERE ($1 = '' OR email = $1)
		  AND ($2 = '' OR user_id::text = $2)
		ORDER BY attempted_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, filter.Email, filter.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		var a models.LoginAttempt
		if err := rows.Scan(
			&a.ID, &a.Email, &a.IPAddress, &a.UserAgent,
			&a.Success, &a.UserID, &a.FailureReason, &a.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}

// DeleteOlderThan removes attempts recorded before cutoff
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
