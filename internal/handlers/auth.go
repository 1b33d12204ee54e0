package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// CredentialVerifierInterface runs one login attempt end to end
type CredentialVerifierInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
}

// SessionExpiryInterface reports when a session hits its hard cap
type SessionExpiryInterface interface {
	ExpiresAt(claims models.SessionClaims) time.Time
}

// AuthHandler handles login, logout and session introspection
type AuthHandler struct {
	verifier CredentialVerifierInterface
	sessions SessionExpiryInterface
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(verifier CredentialVerifierInterface, sessions SessionExpiryInterface, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		verifier: verifier,
		sessions: sessions,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	TOTPCode string `json:"totp_code,omitempty" validate:"omitempty,max=32"`
}

// UserResponse is the public view of the authenticated user
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// LoginResponse is returned on successful authentication
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// SessionResponse describes the caller's current session
type SessionResponse struct {
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	IssuedAt       time.Time `json:"issued_at"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.verifier.Login(r.Context(), services.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		TOTPCode:  req.TOTPCode,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Token, result.ExpiresAt, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.UTC(),
		User:      toUserResponse(result.User),
	})
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var locked *models.AccountLockedError

	switch {
	case errors.As(err, &locked):
		pkghttp.WriteAccountLocked(w, locked.LockedUntil)
	case errors.Is(err, models.ErrTwoFactorRequired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "two_factor_required", "Two-factor code required")
	case errors.Is(err, models.ErrInvalidTwoFactorCode):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_two_factor_code", "Invalid two-factor code")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	default:
		h.logger.Error("login failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Login failed")
	}
}

// Logout handles POST /auth/logout. Sessions are stateless, so logging out
// only drops the cookie; header clients discard their token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Session handles GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{
		UserID:         claims.SubjectID,
		Role:           claims.Role,
		IssuedAt:       claims.IssuedAt.UTC(),
		LastVerifiedAt: claims.LastVerifiedAt.UTC(),
		ExpiresAt:      h.sessions.ExpiresAt(claims).UTC(),
	})
}

func toUserResponse(user *models.User) UserResponse {
	if user == nil {
		return UserResponse{}
	}
	return UserResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
}
