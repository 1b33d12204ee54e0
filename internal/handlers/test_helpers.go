package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext attaches session claims to the request, as the
// session middleware would
func WithSessionContext(req *http.Request, userID, role string) *http.Request {
	now := time.Now()
	claims := models.SessionClaims{
		SubjectID:      userID,
		Role:           role,
		IssuedAt:       now,
		LastVerifiedAt: now,
	}
	return req.WithContext(auth.WithSession(req.Context(), claims))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockCredentialVerifier implements CredentialVerifierInterface for testing
type MockCredentialVerifier struct {
	LoginFunc func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
}

func (m *MockCredentialVerifier) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, req)
}

// MockSessionExpiry implements SessionExpiryInterface with a fixed lifetime
type MockSessionExpiry struct {
	MaxAge time.Duration
}

func (m *MockSessionExpiry) ExpiresAt(claims models.SessionClaims) time.Time {
	maxAge := m.MaxAge
	if maxAge == 0 {
		maxAge = 8 * time.Hour
	}
	return claims.IssuedAt.Add(maxAge)
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	IsEnabledFunc               func(ctx context.Context, userID string) (bool, error)
	SetupFunc                   func(ctx context.Context, userID, email string) (*models.TwoFactorEnrollment, error)
	ConfirmFunc                 func(ctx context.Context, userID, code string) error
	DisableFunc                 func(ctx context.Context, userID, code string) error
	RegenerateRecoveryCodesFunc func(ctx context.Context, userID, code string) ([]string, error)
}

func (m *MockTwoFactorService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	if m.IsEnabledFunc == nil {
		return false, nil
	}
	return m.IsEnabledFunc(ctx, userID)
}

func (m *MockTwoFactorService) Setup(ctx context.Context, userID, email string) (*models.TwoFactorEnrollment, error) {
	if m.SetupFunc == nil {
		return nil, models.ErrTwoFactorAlreadyEnabled
	}
	return m.SetupFunc(ctx, userID, email)
}

func (m *MockTwoFactorService) Confirm(ctx context.Context, userID, code string) error {
	if m.ConfirmFunc == nil {
		return models.ErrTwoFactorNotPending
	}
	return m.ConfirmFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if m.DisableFunc == nil {
		return models.ErrTwoFactorNotEnabled
	}
	return m.DisableFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	if m.RegenerateRecoveryCodesFunc == nil {
		return nil, models.ErrTwoFactorNotEnabled
	}
	return m.RegenerateRecoveryCodesFunc(ctx, userID, code)
}

// MockUserLookup implements UserLookupInterface for testing
type MockUserLookup struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserLookup) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetByIDFunc(ctx, id)
}

// MockAlertService implements AlertServiceInterface for testing
type MockAlertService struct {
	ListFunc    func(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error)
	ResolveFunc func(ctx context.Context, alertID, adminID string) (*models.SecurityAlert, error)
}

func (m *MockAlertService) List(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
	if m.ListFunc == nil {
		return []*models.SecurityAlert{}, nil
	}
	return m.ListFunc(ctx, filter)
}

func (m *MockAlertService) Resolve(ctx context.Context, alertID, adminID string) (*models.SecurityAlert, error) {
	if m.ResolveFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ResolveFunc(ctx, alertID, adminID)
}

// MockLoginLedger implements LoginLedgerInterface for testing
type MockLoginLedger struct {
	RecentFunc func(ctx context.Context, filter models.LoginAttemptFilter) ([]*models.LoginAttempt, error)
}

func (m *MockLoginLedger) Recent(ctx context.Context, filter models.LoginAttemptFilter) ([]*models.LoginAttempt, error) {
	if m.RecentFunc == nil {
		return []*models.LoginAttempt{}, nil
	}
	return m.RecentFunc(ctx, filter)
}

// MockLockoutService implements LockoutServiceInterface for testing
type MockLockoutService struct {
	IsLockedFunc func(ctx context.Context, userID string) (models.LockStatus, error)
	UnlockFunc   func(ctx context.Context, userID, adminID string) (bool, error)
}

func (m *MockLockoutService) IsLocked(ctx context.Context, userID string) (models.LockStatus, error) {
	if m.IsLockedFunc == nil {
		return models.LockStatus{}, nil
	}
	return m.IsLockedFunc(ctx, userID)
}

func (m *MockLockoutService) Unlock(ctx context.Context, userID, adminID string) (bool, error) {
	if m.UnlockFunc == nil {
		return false, nil
	}
	return m.UnlockFunc(ctx, userID, adminID)
}
