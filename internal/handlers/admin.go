package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AlertServiceInterface defines the operator view of security alerts
type AlertServiceInterface interface {
	List(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error)
	Resolve(ctx context.Context, alertID, adminID string) (*models.SecurityAlert, error)
}

// LoginLedgerInterface defines the audit feed over login attempts
type LoginLedgerInterface interface {
	Recent(ctx context.Context, filter models.LoginAttemptFilter) ([]*models.LoginAttempt, error)
}

// LockoutServiceInterface defines lock inspection and manual release
type LockoutServiceInterface interface {
	IsLocked(ctx context.Context, userID string) (models.LockStatus, error)
	Unlock(ctx context.Context, userID, adminID string) (bool, error)
}

// AdminHandler handles /admin endpoints. Routes are mounted behind
// RequireRole("admin").
type AdminHandler struct {
	alerts  AlertServiceInterface
	ledger  LoginLedgerInterface
	lockout LockoutServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(alerts AlertServiceInterface, ledger LoginLedgerInterface, lockout LockoutServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		alerts:  alerts,
		ledger:  ledger,
		lockout: lockout,
		logger:  logger,
	}
}

type alertQuery struct {
	Status string `validate:"omitempty,oneof=open all"`
	UserID string `validate:"omitempty,uuid"`
	Limit  int    `validate:"gte=0,lte=500"`
}

type attemptQuery struct {
	Email  string `validate:"omitempty,email,max=254"`
	UserID string `validate:"omitempty,uuid"`
	Limit  int    `validate:"gte=0,lte=500"`
}

// AlertListResponse wraps the alert feed
type AlertListResponse struct {
	Alerts []*models.SecurityAlert `json:"alerts"`
}

// LoginAttemptListResponse wraps the login attempt feed
type LoginAttemptListResponse struct {
	Attempts []*models.LoginAttempt `json:"attempts"`
}

// LockStatusResponse reports a user's lock state
type LockStatusResponse struct {
	UserID      string     `json:"user_id"`
	Locked      bool       `json:"locked"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// UnlockResponse reports whether a lock was released
type UnlockResponse struct {
	UserID   string `json:"user_id"`
	Released bool   `json:"released"`
}

// ListAlerts handles GET /admin/alerts?status=open|all&user_id=&limit=
func (h *AdminHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	query := alertQuery{Status: q.Get("status"), UserID: q.Get("user_id"), Limit: limit}
	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	alerts, err := h.alerts.List(r.Context(), models.AlertFilter{
		OpenOnly: query.Status != "all",
		UserID:   query.UserID,
		Limit:    query.Limit,
	})
	if err != nil {
		h.logger.Error("failed to list alerts", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to list alerts")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, AlertListResponse{Alerts: alerts})
}

// ResolveAlert handles POST /admin/alerts/{id}/resolve
func (h *AdminHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := validateID(id); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	alert, err := h.alerts.Resolve(r.Context(), id, admin.SubjectID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Alert not found")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Alert is already resolved")
		default:
			h.logger.Error("failed to resolve alert", slog.String("alert_id", id), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Failed to resolve alert")
		}
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, alert)
}

// ListLoginAttempts handles GET /admin/login-attempts?email=&user_id=&limit=
func (h *AdminHandler) ListLoginAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	query := attemptQuery{
		Email:  strings.TrimSpace(q.Get("email")),
		UserID: q.Get("user_id"),
		Limit:  limit,
	}
	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	attempts, err := h.ledger.Recent(r.Context(), models.LoginAttemptFilter{
		Email:  query.Email,
		UserID: query.UserID,
		Limit:  query.Limit,
	})
	if err != nil {
		h.logger.Error("failed to list login attempts", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to list login attempts")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, LoginAttemptListResponse{Attempts: attempts})
}

// GetUserLock handles GET /admin/users/{id}/lock
func (h *AdminHandler) GetUserLock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validateID(id); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	status, err := h.lockout.IsLocked(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to check lock", slog.String("user_id", id), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to check account lock")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, LockStatusResponse{
		UserID:      id,
		Locked:      status.Locked,
		LockedUntil: status.LockedUntil,
	})
}

// UnlockUser handles POST /admin/users/{id}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := validateID(id); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	released, err := h.lockout.Unlock(r.Context(), id, admin.SubjectID)
	if err != nil {
		h.logger.Error("failed to unlock user", slog.String("user_id", id), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to unlock account")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, UnlockResponse{UserID: id, Released: released})
}
