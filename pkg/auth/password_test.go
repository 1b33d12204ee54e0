package auth

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		shouldFail bool
	}{
		{"valid strong password", "SecureP@ss123", false},
		{"too short", "Pass@1", true},
		{"missing uppercase", "securepass@123", true},
		{"missing lowercase", "SECUREPASS@123", true},
		{"missing digit", "SecurePass@xyz", true},
		{"missing special character", "SecurePass123", true},
		{"common password rejected", "password123", true},
		{"too long", "Aa1!" + strings.Repeat("x", MaxPasswordLen), true},
		{"valid with symbols", "MyP@ssw0rd!", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.shouldFail {
				require.Error(t, err)
				assert.Equal(t, "invalid password", err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashWithCost("Correct-Horse-1", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, ComparePassword(hash, "Correct-Horse-1"))
	assert.Error(t, ComparePassword(hash, "wrong"))

	_, err = HashWithCost("", bcrypt.MinCost)
	assert.Error(t, err)
}

func TestGenerateRecoveryCodes(t *testing.T) {
	codes, err := GenerateRecoveryCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, RecoveryCodeLength+1)
		assert.Equal(t, byte('-'), code[RecoveryCodeLength/2])
		assert.True(t, LooksLikeRecoveryCode(code))
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestNormalizeRecoveryCode(t *testing.T) {
	assert.Equal(t, "ABCDEFGHJK", NormalizeRecoveryCode("abcde-fghjk"))
	assert.Equal(t, "ABCDEFGHJK", NormalizeRecoveryCode(" ABCDE FGHJK "))
	assert.False(t, LooksLikeRecoveryCode("123456"))
}

func TestRecoveryCode_DiscardsBiasedBytes(t *testing.T) {
	// 248..255 would wrap onto the first eight symbols
	src := bytes.NewReader(append(
		[]byte{248, 255, 0, 1, 2, 3, 4, 30, 31, 250, 62, 93},
		make([]byte, RecoveryCodeLength)...,
	))

	code, err := recoveryCode(src)
	require.NoError(t, err)
	assert.Equal(t, "ABCDE-9AAAA", code)
}

func TestRecoveryCode_ShortReadFails(t *testing.T) {
	_, err := recoveryCode(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}
