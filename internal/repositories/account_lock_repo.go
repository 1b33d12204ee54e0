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

const accountLockNamespace = "account_lock"

const accountLockColumns = `id, user_id, locked_until, reason, created_at, released_by, released_at`

// AccountLockRepository persists lock history. Rows are never deleted.
type AccountLockRepository struct {
	db *database.DB
}

func NewAccountLockRepository(db *database.DB) *AccountLockRepository {
	return &AccountLockRepository{db: db}
}

func scanAccountLock(scanner rowScanner) (*models.AccountLock, error) {
	var lock models.AccountLock
	err := scanner.Scan(
		&lock.ID, &lock.UserID, &lock.LockedUntil, &lock.Reason,
		&lock.CreatedAt, &lock.ReleasedBy, &lock.ReleasedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &lock, nil
}

// GetActive returns the lock blocking userID at now, or ErrNotFound
func (r *AccountLockRepository) GetActive(ctx context.Context, userID string, now time.Time) (*models.AccountLock, error) {
	query := `
		SELECT ` + accountLockColumns + `
		FROM account_locks
		WHERE user_id = $1 AND locked_until > $2
		ORDER BY locked_until DESC
		LIMIT 1
	`
	return scanAccountLock(r.db.Pool.QueryRow(ctx, query, userID, now))
}

// CreateIfNoneActive inserts lock unless the user already has an active one.
// Concurrent callers for the same user are serialised with an advisory lock,
// so at most one of them creates a row. The returned lock is either the new
// row (created=true) or the one that was already active.
func (r *AccountLockRepository) CreateIfNoneActive(ctx context.Context, lock *models.AccountLock, now time.Time) (*models.AccountLock, bool, error) {
	var result *models.AccountLock
	var created bool

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.AdvisoryXactLock(ctx, tx, accountLockNamespace, lock.UserID); err != nil {
			return err
		}

		existing, err := scanAccountLock(tx.QueryRow(ctx, `
			SELECT `+accountLockColumns+`
			FROM account_locks
			WHERE user_id = $1 AND locked_until > $2
			ORDER BY locked_until DESC
			LIMIT 1
		`, lock.UserID, now))
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to check active lock: %w", err)
		}

		lock.ID = uuid.New().String()
		lock.CreatedAt = now

		inserted, err := scanAccountLock(tx.QueryRow(ctx, `
			INSERT INTO account_locks (id, user_id, locked_until, reason, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+accountLockColumns,
			lock.ID, lock.UserID, lock.LockedUntil, lock.Reason, lock.CreatedAt,
		))
		if err != nil {
			return fmt.Errorf("failed to insert lock: %w", err)
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

// LastReleasedAt returns when an operator last released a lock for userID,
// or nil if none ever was
func (r *AccountLockRepository) LastReleasedAt(ctx context.Context, userID string) (*time.Time, error) {
	query := `SELECT MAX(released_at) FROM account_locks WHERE user_id = $1`

	var releasedAt *time.Time
	if err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&releasedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return releasedAt, nil
}

// ReleaseActive ends every active lock for userID at now. It reports whether
// any lock was released.
func (r *AccountLockRepository) ReleaseActive(ctx context.Context, userID, releasedBy string, now time.Time) (bool, error) {
	query := `
		UPDATE account_locks
		SET locked_until = $2, released_at = $2, released_by = $3
		WHERE user_id = $1 AND locked_until > $2
	`

	var by *string
	if releasedBy != "" {
		by = &releasedBy
	}

	tag, err := r.db.Pool.Exec(ctx, query, userID, now, by)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}
