package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testCookies = auth.CookieConfig{Name: "bastion_session", SameSite: "strict"}

func newAuthHandler(verifier *handlers.MockCredentialVerifier) *handlers.AuthHandler {
	return handlers.NewAuthHandler(verifier, &handlers.MockSessionExpiry{}, testCookies, nil, discardLogger())
}

func TestLogin_Success(t *testing.T) {
	expires := time.Now().Add(8 * time.Hour).UTC().Truncate(time.Second)
	var got services.LoginRequest

	handler := newAuthHandler(&handlers.MockCredentialVerifier{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			got = req
			return &services.LoginResult{
				Token:     "signed.session.token",
				ExpiresAt: expires,
				User: &models.User{
					ID:           "user-1",
					Email:        "user@example.com",
					PasswordHash: "$2a$12$secret",
					Name:         "Ada",
					Role:         models.RoleUser,
				},
			}, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "correct horse",
		TOTPCode: "123456",
	})
	req.RemoteAddr = "203.0.113.5:40000"
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "signed.session.token", resp.Token)
	assert.True(t, expires.Equal(resp.ExpiresAt))
	assert.Equal(t, "user-1", resp.User.ID)
	assert.Equal(t, models.RoleUser, resp.User.Role)
	assert.NotContains(t, w.Body.String(), "$2a$", "password hash must never leave the server")

	assert.Equal(t, "203.0.113.5", got.IPAddress)
	assert.Equal(t, "test-agent", got.UserAgent)
	assert.Equal(t, "123456", got.TOTPCode)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "bastion_session", cookies[0].Name)
	assert.Equal(t, "signed.session.token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"wrong password", models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"two factor required", models.ErrTwoFactorRequired, http.StatusUnauthorized, "two_factor_required"},
		{"wrong two factor code", models.ErrInvalidTwoFactorCode, http.StatusUnauthorized, "invalid_two_factor_code"},
		{"locked", &models.AccountLockedError{LockedUntil: time.Now().Add(10 * time.Minute)}, http.StatusLocked, "account_locked"},
		{"internal", models.ErrInternalServer, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newAuthHandler(&handlers.MockCredentialVerifier{
				LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
					return nil, tt.err
				},
			})

			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{
				Email:    "user@example.com",
				Password: "password",
			})
			w := httptest.NewRecorder()
			handler.Login(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantError)
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestLogin_LockedResponseCarriesUnlockTime(t *testing.T) {
	until := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	handler := newAuthHandler(&handlers.MockCredentialVerifier{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return nil, &models.AccountLockedError{LockedUntil: until}
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp pkghttp.AccountLockedResponse
	handlers.AssertJSONResponse(t, w, http.StatusLocked, &resp)
	assert.True(t, until.Equal(resp.LockedUntil))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestLogin_InvalidBody(t *testing.T) {
	called := false
	handler := newAuthHandler(&handlers.MockCredentialVerifier{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			called = true
			return nil, nil
		},
	})

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"malformed", `{"email":`},
		{"unknown field", `{"email":"user@example.com","password":"x","remember":true}`},
		{"missing password", `{"email":"user@example.com"}`},
		{"bad email", `{"email":"not-an-email","password":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.Login(w, req)

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
	assert.False(t, called, "invalid bodies never reach the verifier")
}

func TestLogout_ClearsCookie(t *testing.T) {
	handler := newAuthHandler(&handlers.MockCredentialVerifier{})

	w := httptest.NewRecorder()
	handler.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "bastion_session", cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestSession(t *testing.T) {
	handler := newAuthHandler(&handlers.MockCredentialVerifier{})

	t.Run("authenticated", func(t *testing.T) {
		req := handlers.WithSessionContext(httptest.NewRequest(http.MethodGet, "/auth/session", nil), "user-1", models.RoleAdmin)
		w := httptest.NewRecorder()
		handler.Session(w, req)

		var resp handlers.SessionResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "user-1", resp.UserID)
		assert.Equal(t, models.RoleAdmin, resp.Role)
		assert.WithinDuration(t, resp.IssuedAt.Add(8*time.Hour), resp.ExpiresAt, time.Second)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.Session(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))

		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	})
}
