package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the identity carried by an authenticated caller.
// Values are immutable: revalidation produces a new value.
type SessionClaims struct {
	SubjectID      string
	Role           string
	IssuedAt       time.Time
	LastVerifiedAt time.Time
}

// TokenClaims is the signed wire form of SessionClaims
type TokenClaims struct {
	Role           string `json:"role"`
	LastVerifiedAt int64  `json:"lva"`
	jwt.RegisteredClaims
}
