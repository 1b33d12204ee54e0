// Package ratelimit implements fixed-window request admission keyed by
// caller identity and scope.
//
// A window for a key opens on its first request. Requests are admitted until
// limit is reached; further requests are rejected without being counted.
// The first request arriving more than window after the window opened starts
// a new window. Bursts of up to 2x limit are possible across a boundary.
package ratelimit

import (
	"context"
	"time"
)

// Scopes are tracked independently under distinct key prefixes
const (
	ScopeGlobal   = "global"
	ScopeLogin    = "login"
	ScopeAdminAPI = "admin-api"
)

// Decision is the outcome of a single admission check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // set when Allowed is false
}

// Store owns the window counters. Implementations must make Admit atomic per key.
type Store interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Key builds the store key for an identity within a scope
func Key(scope, identity string) string {
	return scope + ":" + identity
}
