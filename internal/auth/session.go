package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// UserReader is the authoritative user lookup sessions are re-verified against
type UserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// SessionConfig holds the two expiry mechanisms and the signing secret
type SessionConfig struct {
	Secret         string
	MaxAge         time.Duration // hard cap from IssuedAt
	VerifyInterval time.Duration // re-read the user record after this long
	LookupTimeout  time.Duration
}

// SessionManager issues signed session claims and re-verifies them against
// the user record on a fixed cadence
type SessionManager struct {
	secret         []byte
	maxAge         time.Duration
	verifyInterval time.Duration
	lookupTimeout  time.Duration
	users          UserReader
	lookups        singleflight.Group
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

func NewSessionManager(cfg SessionConfig, users UserReader, logger *slog.Logger, m *metrics.Metrics) *SessionManager {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	return &SessionManager{
		secret:         []byte(cfg.Secret),
		maxAge:         cfg.MaxAge,
		verifyInterval: cfg.VerifyInterval,
		lookupTimeout:  cfg.LookupTimeout,
		users:          users,
		logger:         logger,
		metrics:        m,
		now:            time.Now,
	}
}

// Issue starts a new session for user
func (sm *SessionManager) Issue(user *models.User) (string, models.SessionClaims, error) {
	now := sm.now().Truncate(time.Second)
	claims := models.SessionClaims{
		SubjectID:      user.ID,
		Role:           user.Role,
		IssuedAt:       now,
		LastVerifiedAt: now,
	}

	token, err := sm.Sign(claims)
	if err != nil {
		return "", models.SessionClaims{}, err
	}
	return token, claims, nil
}

// ExpiresAt is the hard-cap expiry of a session
func (sm *SessionManager) ExpiresAt(claims models.SessionClaims) time.Time {
	return claims.IssuedAt.Add(sm.maxAge)
}

// Sign serialises claims into an HS256 token
func (sm *SessionManager) Sign(claims models.SessionClaims) (string, error) {
	tc := &models.TokenClaims{
		Role:           claims.Role,
		LastVerifiedAt: claims.LastVerifiedAt.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   claims.SubjectID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sm.ExpiresAt(claims)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(sm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of a token. Any failure is
// ErrSessionInvalid.
func (sm *SessionManager) Parse(token string) (models.SessionClaims, error) {
	tc := &models.TokenClaims{}

	_, err := jwt.ParseWithClaims(token, tc, func(t *jwt.Token) (interface{}, error) {
		return sm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(sm.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return models.SessionClaims{}, fmt.Errorf("%w: %v", models.ErrSessionInvalid, err)
	}

	if tc.Subject == "" || tc.IssuedAt == nil {
		return models.SessionClaims{}, fmt.Errorf("%w: missing subject or issue time", models.ErrSessionInvalid)
	}

	return models.SessionClaims{
		SubjectID:      tc.Subject,
		Role:           tc.Role,
		IssuedAt:       tc.IssuedAt.Time,
		LastVerifiedAt: time.Unix(tc.LastVerifiedAt, 0),
	}, nil
}

// Revalidate is the per-use transition of a session. It returns the claims
// to continue with and whether they differ from the input (so the caller
// should re-sign them).
//
//   - past the hard cap: ErrSessionInvalid
//   - verified within the interval: unchanged
//   - user missing or inactive: ErrSessionInvalid
//   - lookup failed for another reason: unchanged, retried on next use
//   - otherwise: role refreshed, LastVerifiedAt reset to now
func (sm *SessionManager) Revalidate(ctx context.Context, claims models.SessionClaims) (models.SessionClaims, bool, error) {
	now := sm.now()

	if now.Sub(claims.IssuedAt) > sm.maxAge {
		sm.metrics.SessionRevalidated("expired")
		return models.SessionClaims{}, false, models.ErrSessionInvalid
	}

	if now.Sub(claims.LastVerifiedAt) <= sm.verifyInterval {
		return claims, false, nil
	}

	result, err, _ := sm.lookups.Do(claims.SubjectID, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sm.lookupTimeout)
		defer cancel()
		return sm.users.GetByID(lookupCtx, claims.SubjectID)
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			sm.metrics.SessionRevalidated("revoked")
			return models.SessionClaims{}, false, models.ErrSessionInvalid
		}

		sm.logger.Warn("session re-verification failed, keeping claims",
			slog.String("user_id", claims.SubjectID),
			slog.Any("error", err),
		)
		sm.metrics.SessionRevalidated("deferred")
		return claims, false, nil
	}

	user := result.(*models.User)
	if !user.IsActive() {
		sm.metrics.SessionRevalidated("revoked")
		return models.SessionClaims{}, false, models.ErrSessionInvalid
	}

	refreshed := claims
	refreshed.Role = user.Role
	refreshed.LastVerifiedAt = now.Truncate(time.Second)

	sm.metrics.SessionRevalidated("refreshed")
	return refreshed, true, nil
}

// Authenticate parses and revalidates token. refreshedToken is non-empty
// when the claims changed and were re-signed.
func (sm *SessionManager) Authenticate(ctx context.Context, token string) (models.SessionClaims, string, error) {
	claims, err := sm.Parse(token)
	if err != nil {
		return models.SessionClaims{}, "", err
	}

	claims, refreshed, err := sm.Revalidate(ctx, claims)
	if err != nil {
		return models.SessionClaims{}, "", err
	}
	if !refreshed {
		return claims, "", nil
	}

	signed, err := sm.Sign(claims)
	if err != nil {
		// claims are still valid; the client keeps its old token
		sm.logger.Error("failed to re-sign session", slog.Any("error", err))
		return claims, "", nil
	}
	return claims, signed, nil
}
