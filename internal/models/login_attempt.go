package models

import "time"

// Failure reasons stored alongside failed login attempts
const (
	FailureInvalidCredentials   = "invalid_credentials"
	FailureAccountLocked        = "account_locked"
	FailureTwoFactorRequired    = "two_factor_required"
	FailureInvalidTwoFactorCode = "invalid_two_factor_code"
	FailureInternalError        = "internal_error"
)

// UnpenalizedFailureReasons are recorded in the ledger but never counted toward
// a brute-force lock: a 2FA prompt is the second half of a correct password,
// and a server-side failure says nothing about the caller.
var UnpenalizedFailureReasons = []string{
	FailureTwoFactorRequired,
	FailureInternalError,
}

// LoginAttempt is a single, immutable authentication attempt
type LoginAttempt struct {
	ID            string    `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	IPAddress     string    `db:"ip_address" json:"ip_address"`
	UserAgent     string    `db:"user_agent" json:"user_agent"`
	Success       bool      `db:"success" json:"success"`
	UserID        *string   `db:"user_id" json:"user_id,omitempty"`
	FailureReason *string   `db:"failure_reason" json:"failure_reason,omitempty"`
	AttemptedAt   time.Time `db:"attempted_at" json:"attempted_at"`
}

// LoginAttemptFilter narrows ledger reads for the audit feed
type LoginAttemptFilter struct {
	Email  string
	UserID string
	Limit  int
}
