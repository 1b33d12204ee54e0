package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "test-secret-32-characters-long!!")
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("TOTP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))))
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8*time.Hour, cfg.Auth.MaxSessionAge)
	assert.Equal(t, 5*time.Minute, cfg.Auth.VerifyInterval)
	assert.Equal(t, "session", cfg.Auth.CookieName)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.AttemptRetention)

	assert.Equal(t, 5, cfg.Security.MaxFailedAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Security.LockoutWindow)
	assert.Equal(t, 15*time.Minute, cfg.Security.LockDuration)
	assert.Equal(t, time.Hour, cfg.Security.SuspiciousWindow)
	assert.Equal(t, 3, cfg.Security.SuspiciousIPThreshold)
	assert.Equal(t, 5, cfg.Security.LoginRateLimit)
	assert.Equal(t, time.Minute, cfg.Security.LoginRateWindow)

	assert.Len(t, cfg.TwoFactor.EncryptionKey, 32)
	assert.Equal(t, "Bastion", cfg.TwoFactor.Issuer)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Alerts.Recipients)
}

func TestServerConfig_Timeouts(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		expected [3]time.Duration
	}{
		{
			name:     "defaults",
			env:      map[string]string{},
			expected: [3]time.Duration{15 * time.Second, 15 * time.Second, 60 * time.Second},
		},
		{
			name: "custom values",
			env: map[string]string{
				"SERVER_READ_TIMEOUT":  "30s",
				"SERVER_WRITE_TIMEOUT": "45s",
				"SERVER_IDLE_TIMEOUT":  "120s",
			},
			expected: [3]time.Duration{30 * time.Second, 45 * time.Second, 120 * time.Second},
		},
		{
			name:     "invalid duration falls back to default",
			env:      map[string]string{"SERVER_READ_TIMEOUT": "not-a-duration"},
			expected: [3]time.Duration{15 * time.Second, 15 * time.Second, 60 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)

			assert.Equal(t, tt.expected[0], cfg.Server.ReadTimeout)
			assert.Equal(t, tt.expected[1], cfg.Server.WriteTimeout)
			assert.Equal(t, tt.expected[2], cfg.Server.IdleTimeout)
		})
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantErr string
	}{
		{"session secret", "SESSION_SECRET", "SESSION_SECRET is required"},
		{"db password", "DB_PASSWORD", "DB_PASSWORD is required"},
		{"encryption key", "TOTP_ENCRYPTION_KEY", "TOTP_ENCRYPTION_KEY is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_EncryptionKeyLength(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOTP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("too-short")))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoad_AlertRecipientsRequireSender(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ALERT_RECIPIENTS", "secops@example.com, oncall@example.com")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("ALERT_FROM_ADDRESS", "alerts@example.com")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"secops@example.com", "oncall@example.com"}, cfg.Alerts.Recipients)
}

func TestValidateSessionSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		env     string
		wantErr bool
	}{
		{"production requires 32 chars", "short-secret-1234567890", "production", true},
		{"production accepts 32 chars", strings.Repeat("a", 32), "production", false},
		{"development accepts 16 chars", "sixteen-chars-ok", "development", false},
		{"too short everywhere", "tiny", "development", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSessionSecret(tt.secret, tt.env)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
