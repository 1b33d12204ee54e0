package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// TwoFactorServiceInterface defines the enrollment lifecycle
type TwoFactorServiceInterface interface {
	IsEnabled(ctx context.Context, userID string) (bool, error)
	Setup(ctx context.Context, userID, email string) (*models.TwoFactorEnrollment, error)
	Confirm(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, code string) error
	RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error)
}

// UserLookupInterface resolves the session subject to an account
type UserLookupInterface interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TwoFactorHandler handles /auth/2fa endpoints. Every route requires a session.
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
	users   UserLookupInterface
	logger  *slog.Logger
}

// NewTwoFactorHandler creates a new TwoFactorHandler
func NewTwoFactorHandler(service TwoFactorServiceInterface, users UserLookupInterface, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		service: service,
		users:   users,
		logger:  logger,
	}
}

// TwoFactorCodeRequest carries a TOTP or recovery code
type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,min=6,max=32"`
}

// TwoFactorStatusResponse reports whether 2FA is active
type TwoFactorStatusResponse struct {
	Enabled bool `json:"enabled"`
}

// RecoveryCodesResponse carries a freshly generated code set, shown once
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Status handles GET /auth/2fa
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	enabled, err := h.service.IsEnabled(r.Context(), claims.SubjectID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorStatusResponse{Enabled: enabled})
}

// Setup handles POST /auth/2fa/setup
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.SubjectID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		h.writeError(w, err)
		return
	}

	enrollment, err := h.service.Setup(r.Context(), user.ID, user.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, enrollment)
}

// Confirm handles POST /auth/2fa/confirm
func (h *TwoFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims, code, ok := h.readCode(w, r)
	if !ok {
		return
	}

	if err := h.service.Confirm(r.Context(), claims.SubjectID, code); err != nil {
		h.writeError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorStatusResponse{Enabled: true})
}

// Disable handles POST /auth/2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, code, ok := h.readCode(w, r)
	if !ok {
		return
	}

	if err := h.service.Disable(r.Context(), claims.SubjectID, code); err != nil {
		h.writeError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorStatusResponse{Enabled: false})
}

// RegenerateRecoveryCodes handles POST /auth/2fa/recovery-codes
func (h *TwoFactorHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	claims, code, ok := h.readCode(w, r)
	if !ok {
		return
	}

	codes, err := h.service.RegenerateRecoveryCodes(r.Context(), claims.SubjectID, code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

// readCode pulls the session and a validated code body, writing the
// error response itself when either is missing
func (h *TwoFactorHandler) readCode(w http.ResponseWriter, r *http.Request) (models.SessionClaims, string, bool) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return models.SessionClaims{}, "", false
	}

	var req TwoFactorCodeRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return models.SessionClaims{}, "", false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return models.SessionClaims{}, "", false
	}
	return claims, req.Code, true
}

func (h *TwoFactorHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidTwoFactorCode):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_two_factor_code", "Invalid two-factor code")
	case errors.Is(err, models.ErrTwoFactorAlreadyEnabled):
		pkghttp.WriteError(w, http.StatusConflict, "two_factor_already_enabled", "Two-factor authentication is already enabled")
	case errors.Is(err, models.ErrTwoFactorNotEnabled):
		pkghttp.WriteError(w, http.StatusConflict, "two_factor_not_enabled", "Two-factor authentication is not enabled")
	case errors.Is(err, models.ErrTwoFactorNotPending):
		pkghttp.WriteError(w, http.StatusConflict, "two_factor_not_pending", "Start two-factor setup first")
	default:
		h.logger.Error("two-factor request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Two-factor request failed")
	}
}
