package models

import (
	"time"
)

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account statuses
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// User is the authoritative account record the security core checks credentials
// and sessions against. It is owned by the surrounding application.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string // "user" or "admin"
	Status       string // "active" or "inactive"
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the account may authenticate
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
