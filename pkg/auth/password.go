package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 12
	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt ignores bytes past 72

	RecoveryCodeLength = 10
)

// recoveryAlphabet omits characters that are easy to misread (0/O, 1/I/L)
const recoveryAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return "invalid password"
}

var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"letmein":      true,
	"welcome":      true,
	"passw0rd":     true,
	"trustno1":     true,
	"changeme":     true,
	"admin123":     true,
}

func HashPassword(password string) (string, error) {
	return HashWithCost(password, BcryptCost)
}

// HashWithCost bcrypt-hashes a secret at an explicit cost
func HashWithCost(secret string, cost int) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateRecoveryCodes returns n random single-use codes in XXXXX-XXXXX form
func GenerateRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := recoveryCode(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// recoveryCode draws symbols by rejection sampling: bytes at or above the
// largest multiple of the alphabet size are discarded so every symbol is
// equally likely.
func recoveryCode(src io.Reader) (string, error) {
	limit := byte(256 - 256%len(recoveryAlphabet))
	buf := make([]byte, RecoveryCodeLength)

	var sb strings.Builder
	written := 0
	for written < RecoveryCodeLength {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			if written == RecoveryCodeLength/2 {
				sb.WriteByte('-')
			}
			sb.WriteByte(recoveryAlphabet[int(b)%len(recoveryAlphabet)])
			written++
			if written == RecoveryCodeLength {
				break
			}
		}
	}
	return sb.String(), nil
}

// NormalizeRecoveryCode uppercases and strips separators and whitespace so
// "abcde fghjk" and "ABCDE-FGHJK" compare equal
func NormalizeRecoveryCode(code string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// LooksLikeRecoveryCode reports whether code has the shape of a recovery code
// rather than a 6-digit TOTP code
func LooksLikeRecoveryCode(code string) bool {
	return len(NormalizeRecoveryCode(code)) == RecoveryCodeLength
}

// ValidatePassword enforces strong password requirements
func ValidatePassword(password string) error {
	errors := make([]string, 0)

	if len(password) < MinPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errors = append(errors, "must contain at least one uppercase letter")
	}
	if !hasLower {
		errors = append(errors, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		errors = append(errors, "must contain at least one digit")
	}
	if !hasSpecial {
		errors = append(errors, "must contain at least one special character")
	}

	if commonPasswords[strings.ToLower(password)] {
		errors = append(errors, "is too common")
	}

	if len(errors) > 0 {
		return &PasswordValidationError{Errors: errors}
	}

	return nil
}
