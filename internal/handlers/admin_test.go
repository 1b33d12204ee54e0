package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
)

const (
	adminID  = "9b2f6a38-3a59-4c6e-9d4b-1f0f3c8a7e21"
	targetID = "5d7c2e11-8f64-4b0a-a2de-6c3b9e40f812"
	alertID  = "0e8a4c52-7b19-4f3d-b6e0-2a91d5c7f3a4"
)

func newAdminHandler(alerts *handlers.MockAlertService, ledger *handlers.MockLoginLedger, lockout *handlers.MockLockoutService) *handlers.AdminHandler {
	if alerts == nil {
		alerts = &handlers.MockAlertService{}
	}
	if ledger == nil {
		ledger = &handlers.MockLoginLedger{}
	}
	if lockout == nil {
		lockout = &handlers.MockLockoutService{}
	}
	return handlers.NewAdminHandler(alerts, ledger, lockout, discardLogger())
}

func TestListAlerts_Filters(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   models.AlertFilter
	}{
		{"defaults to open", "/admin/alerts", models.AlertFilter{OpenOnly: true}},
		{"all", "/admin/alerts?status=all&limit=20", models.AlertFilter{OpenOnly: false, Limit: 20}},
		{"by user", "/admin/alerts?status=open&user_id=" + targetID, models.AlertFilter{OpenOnly: true, UserID: targetID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.AlertFilter
			handler := newAdminHandler(&handlers.MockAlertService{
				ListFunc: func(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
					got = filter
					return []*models.SecurityAlert{{ID: alertID, Type: models.AlertTypeBruteForce}}, nil
				},
			}, nil, nil)

			w := httptest.NewRecorder()
			handler.ListAlerts(w, httptest.NewRequest(http.MethodGet, tt.target, nil))

			var resp handlers.AlertListResponse
			handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
			assert.Len(t, resp.Alerts, 1)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListAlerts_InvalidQuery(t *testing.T) {
	handler := newAdminHandler(nil, nil, nil)

	for _, target := range []string{
		"/admin/alerts?status=closed",
		"/admin/alerts?limit=abc",
		"/admin/alerts?limit=5000",
		"/admin/alerts?user_id=not-a-uuid",
	} {
		w := httptest.NewRecorder()
		handler.ListAlerts(w, httptest.NewRequest(http.MethodGet, target, nil))
		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	}
}

func TestResolveAlert(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		err        error
		wantStatus int
		wantError  string
	}{
		{"resolved", alertID, nil, http.StatusOK, ""},
		{"unknown", alertID, models.ErrNotFound, http.StatusNotFound, "not_found"},
		{"already resolved", alertID, models.ErrConflict, http.StatusConflict, "conflict"},
		{"store failure", alertID, errors.New("timeout"), http.StatusInternalServerError, "internal_error"},
		{"bad id", "42", nil, http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAdmin string
			handler := newAdminHandler(&handlers.MockAlertService{
				ResolveFunc: func(ctx context.Context, id, admin string) (*models.SecurityAlert, error) {
					gotAdmin = admin
					if tt.err != nil {
						return nil, tt.err
					}
					now := time.Now()
					return &models.SecurityAlert{ID: id, ResolvedAt: &now, ResolvedBy: &admin}, nil
				},
			}, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/admin/alerts/"+tt.id+"/resolve", nil)
			req = handlers.WithSessionContext(req, adminID, models.RoleAdmin)
			req = handlers.WithURLParam(req, "id", tt.id)
			w := httptest.NewRecorder()
			handler.ResolveAlert(w, req)

			if tt.wantError != "" {
				handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantError)
				return
			}
			var resp models.SecurityAlert
			handlers.AssertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.Equal(t, alertID, resp.ID)
			assert.Equal(t, adminID, gotAdmin)
		})
	}
}

func TestListLoginAttempts(t *testing.T) {
	var got models.LoginAttemptFilter
	reason := models.FailureInvalidCredentials
	handler := newAdminHandler(nil, &handlers.MockLoginLedger{
		RecentFunc: func(ctx context.Context, filter models.LoginAttemptFilter) ([]*models.LoginAttempt, error) {
			got = filter
			return []*models.LoginAttempt{{Email: filter.Email, FailureReason: &reason}}, nil
		},
	}, nil)

	w := httptest.NewRecorder()
	handler.ListLoginAttempts(w, httptest.NewRequest(http.MethodGet, "/admin/login-attempts?email=victim%40example.com&limit=25", nil))

	var resp handlers.LoginAttemptListResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Len(t, resp.Attempts, 1)
	assert.Equal(t, models.LoginAttemptFilter{Email: "victim@example.com", Limit: 25}, got)

	w = httptest.NewRecorder()
	handler.ListLoginAttempts(w, httptest.NewRequest(http.MethodGet, "/admin/login-attempts?email=nope", nil))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestGetUserLock(t *testing.T) {
	until := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	handler := newAdminHandler(nil, nil, &handlers.MockLockoutService{
		IsLockedFunc: func(ctx context.Context, userID string) (models.LockStatus, error) {
			if userID == targetID {
				return models.LockStatus{Locked: true, LockedUntil: &until}, nil
			}
			return models.LockStatus{}, nil
		},
	})

	req := handlers.WithURLParam(httptest.NewRequest(http.MethodGet, "/admin/users/"+targetID+"/lock", nil), "id", targetID)
	w := httptest.NewRecorder()
	handler.GetUserLock(w, req)

	var resp handlers.LockStatusResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Locked)
	if assert.NotNil(t, resp.LockedUntil) {
		assert.True(t, until.Equal(*resp.LockedUntil))
	}

	req = handlers.WithURLParam(httptest.NewRequest(http.MethodGet, "/admin/users/"+adminID+"/lock", nil), "id", adminID)
	w = httptest.NewRecorder()
	handler.GetUserLock(w, req)

	resp = handlers.LockStatusResponse{}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.False(t, resp.Locked)
	assert.Nil(t, resp.LockedUntil)
}

func TestUnlockUser(t *testing.T) {
	var gotUser, gotAdmin string
	handler := newAdminHandler(nil, nil, &handlers.MockLockoutService{
		UnlockFunc: func(ctx context.Context, userID, admin string) (bool, error) {
			gotUser, gotAdmin = userID, admin
			return true, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/users/"+targetID+"/unlock", nil)
	req = handlers.WithSessionContext(req, adminID, models.RoleAdmin)
	req = handlers.WithURLParam(req, "id", targetID)
	w := httptest.NewRecorder()
	handler.UnlockUser(w, req)

	var resp handlers.UnlockResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Released)
	assert.Equal(t, targetID, gotUser)
	assert.Equal(t, adminID, gotAdmin)
}
