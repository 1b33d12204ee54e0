package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

const twoFactorColumns = `user_id, secret_ciphertext, secret_nonce, recovery_codes, enabled, created_at, enabled_at`

// TwoFactorRepository stores one TOTP credential per user
type TwoFactorRepository struct {
	db *database.DB
}

func NewTwoFactorRepository(db *database.DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

func scanTwoFactorCredential(scanner rowScanner) (*models.TwoFactorCredential, error) {
	var cred models.TwoFactorCredential
	err := scanner.Scan(
		&cred.UserID, &cred.SecretCiphertext, &cred.SecretNonce,
		&cred.RecoveryCodes, &cred.Enabled, &cred.CreatedAt, &cred.EnabledAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &cred, nil
}

// Get returns the user's credential (pending or enabled), or ErrNotFound
func (r *TwoFactorRepository) Get(ctx context.Context, userID string) (*models.TwoFactorCredential, error) {
	query := `SELECT ` + twoFactorColumns + ` FROM two_factor_credentials WHERE user_id = $1`
	return scanTwoFactorCredential(r.db.Pool.QueryRow(ctx, query, userID))
}

// UpsertPending stores a new pending credential, replacing any earlier
// pending one. An enabled credential is never overwritten: ErrConflict.
func (r *TwoFactorRepository) UpsertPending(ctx context.Context, cred *models.TwoFactorCredential) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO two_factor_credentials (user_id, secret_ciphertext, secret_nonce, recovery_codes, enabled, created_at)
		VALUES ($1, $2, $3, $4, false, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET secret_ciphertext = EXCLUDED.secret_ciphertext,
		    secret_nonce = EXCLUDED.secret_nonce,
		    recovery_codes = EXCLUDED.recovery_codes,
		    created_at = EXCLUDED.created_at,
		    enabled_at = NULL
		WHERE two_factor_credentials.enabled = false
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		cred.UserID, cred.SecretCiphertext, cred.SecretNonce, cred.RecoveryCodes, cred.CreatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

// Enable switches a pending credential on
func (r *TwoFactorRepository) Enable(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE two_factor_credentials
		SET enabled = true, enabled_at = $2
		WHERE user_id = $1 AND enabled = false
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ConsumeRecoveryCode removes the first stored hash accepted by match. The row
// is held FOR UPDATE while matching, so a code can be spent only once even
// under concurrent logins.
func (r *TwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, userID string, match func(hash string) bool) (bool, error) {
	var consumed bool

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var codes []string
		err := tx.QueryRow(ctx, `
			SELECT recovery_codes FROM two_factor_credentials
			WHERE user_id = $1 AND enabled = true
			FOR UPDATE
		`, userID).Scan(&codes)
		if err != nil {
			return database.MapPostgresError(err)
		}

		idx := -1
		for i, hash := range codes {
			if match(hash) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}

		remaining := make([]string, 0, len(codes)-1)
		remaining = append(remaining, codes[:idx]...)
		remaining = append(remaining, codes[idx+1:]...)

		if _, err := tx.Exec(ctx,
			`UPDATE two_factor_credentials SET recovery_codes = $2 WHERE user_id = $1`,
			userID, remaining,
		); err != nil {
			return fmt.Errorf("failed to update recovery codes: %w", err)
		}

		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return consumed, nil
}

// ReplaceRecoveryCodes swaps the full set of recovery code hashes
func (r *TwoFactorRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, hashes []string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE two_factor_credentials SET recovery_codes = $2 WHERE user_id = $1 AND enabled = true`,
		userID, hashes,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes the credential, disabling two-factor for the user
func (r *TwoFactorRepository) Delete(ctx context.Context, userID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM two_factor_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
