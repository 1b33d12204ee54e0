package services

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// UserRepository is the slice of the user store the security core reads
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginAttemptRepository persists the append-only attempt ledger
type LoginAttemptRepository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailures(ctx context.Context, email string, since time.Time) (int, error)
	DistinctSuccessfulIPs(ctx context.Context, userID string, since time.Time) ([]string, error)
	Recent(ctx context.Context, filter models.LoginAttemptFilter) ([]*models.LoginAttempt, error)
}

// AccountLockRepository persists account locks. CreateIfNoneActive must be
// atomic per user.
type AccountLockRepository interface {
	GetActive(ctx context.Context, userID string, now time.Time) (*models.AccountLock, error)
	CreateIfNoneActive(ctx context.Context, lock *models.AccountLock, now time.Time) (*models.AccountLock, bool, error)
	ReleaseActive(ctx context.Context, userID, releasedBy string, now time.Time) (bool, error)
	// LastReleasedAt returns the most recent manual release, or nil
	LastReleasedAt(ctx context.Context, userID string) (*time.Time, error)
}

// SecurityAlertRepository persists the alert feed. CreateIfNoneOpen must be
// atomic per (type, user).
type SecurityAlertRepository interface {
	CreateIfNoneOpen(ctx context.Context, alert *models.SecurityAlert, since time.Time) (*models.SecurityAlert, bool, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error)
	Resolve(ctx context.Context, id, resolvedBy string, at time.Time) (*models.SecurityAlert, error)
}

// TwoFactorRepository persists TOTP credentials. ConsumeRecoveryCode must
// remove the matched hash before reporting success.
type TwoFactorRepository interface {
	Get(ctx context.Context, userID string) (*models.TwoFactorCredential, error)
	UpsertPending(ctx context.Context, cred *models.TwoFactorCredential) error
	Enable(ctx context.Context, userID string, at time.Time) error
	ConsumeRecoveryCode(ctx context.Context, userID string, match func(hash string) bool) (bool, error)
	ReplaceRecoveryCodes(ctx context.Context, userID string, hashes []string) error
	Delete(ctx context.Context, userID string) error
}
