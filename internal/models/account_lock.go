package models

import "time"

// AccountLock is a time-boxed block on authentication for one user.
// Locks are never deleted; releasing one moves LockedUntil to the release time.
type AccountLock struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	LockedUntil time.Time  `json:"locked_until"`
	Reason      string     `json:"reason"`
	CreatedAt   time.Time  `json:"created_at"`
	ReleasedBy  *string    `json:"released_by,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

// IsActiveAt reports whether the lock still blocks authentication at t
func (l *AccountLock) IsActiveAt(t time.Time) bool {
	return t.Before(l.LockedUntil)
}

// LockStatus is the answer to "is this user locked right now"
type LockStatus struct {
	Locked      bool       `json:"locked"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}
