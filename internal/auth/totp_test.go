package auth

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	tm, err := NewTOTPManager(bytes.Repeat([]byte{0x42}, 32), "Bastion")
	require.NoError(t, err)
	return tm
}

func TestNewTOTPManager_KeyLength(t *testing.T) {
	_, err := NewTOTPManager([]byte("short"), "Bastion")
	assert.Error(t, err)
}

func TestEnroll(t *testing.T) {
	tm := newTestTOTPManager(t)

	enrollment, err := tm.Enroll("user@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.True(t, strings.HasPrefix(enrollment.URI, "otpauth://totp/"))
	assert.Contains(t, enrollment.URI, "issuer=Bastion")
	assert.True(t, strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,"))
	assert.NotContains(t, string(enrollment.Ciphertext), enrollment.Secret)

	decrypted, err := tm.DecryptSecret(enrollment.Ciphertext, enrollment.Nonce)
	require.NoError(t, err)
	assert.Equal(t, enrollment.Secret, decrypted)
}

func TestDecryptSecret_WrongKeyFails(t *testing.T) {
	tm := newTestTOTPManager(t)
	ciphertext, nonce, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	other, err := NewTOTPManager(bytes.Repeat([]byte{0x24}, 32), "Bastion")
	require.NoError(t, err)

	_, err = other.DecryptSecret(ciphertext, nonce)
	assert.Error(t, err)
}

func TestVerify_SkewWindow(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXP"
	now := time.Date(2026, 5, 1, 12, 0, 15, 0, time.UTC)

	current, err := tm.GenerateCode(secret, now)
	require.NoError(t, err)
	previous, err := tm.GenerateCode(secret, now.Add(-30*time.Second))
	require.NoError(t, err)
	next, err := tm.GenerateCode(secret, now.Add(30*time.Second))
	require.NoError(t, err)
	stale, err := tm.GenerateCode(secret, now.Add(-90*time.Second))
	require.NoError(t, err)

	assert.True(t, tm.Verify(secret, current, now))
	assert.True(t, tm.Verify(secret, " "+current+" ", now))
	assert.True(t, tm.Verify(secret, previous, now))
	assert.True(t, tm.Verify(secret, next, now))

	if stale != current && stale != previous && stale != next {
		assert.False(t, tm.Verify(secret, stale, now))
	}
}

func TestVerify_RejectsMalformed(t *testing.T) {
	tm := newTestTOTPManager(t)
	now := time.Now()

	assert.False(t, tm.Verify("JBSWY3DPEHPK3PXP", "", now))
	assert.False(t, tm.Verify("JBSWY3DPEHPK3PXP", "12345", now))
	assert.False(t, tm.Verify("JBSWY3DPEHPK3PXP", "abcdef", now))
	assert.False(t, tm.Verify("not base32 !!", "123456", now))
}
