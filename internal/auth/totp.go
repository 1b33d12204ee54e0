package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpSkew   = 1
	totpDigits = otp.DigitsSix
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    totpDigits,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPManager generates and verifies time-based codes and keeps the shared
// secret encrypted at rest with AES-256-GCM
type TOTPManager struct {
	encryptionKey []byte
	issuer        string
}

// TOTPEnrollment is the output of a fresh secret: plaintext parts for the
// user, sealed parts for storage
type TOTPEnrollment struct {
	Secret     string // base32, shown once
	URI        string // otpauth:// provisioning URI
	QRCode     string // PNG data URL of URI
	Ciphertext []byte
	Nonce      []byte
}

// NewTOTPManager requires a 32-byte AES-256 key
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// Enroll generates a new secret for accountName
func (tm *TOTPManager) Enroll(accountName string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	ciphertext, nonce, err := tm.EncryptSecret(key.Secret())
	if err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPEnrollment{
		Secret:     key.Secret(),
		URI:        key.URL(),
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		Ciphertext: ciphertext,
		Nonce:      nonce,
	}, nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptSecret seals a base32 secret, returning ciphertext and nonce
func (tm *TOTPManager) EncryptSecret(secret string) ([]byte, []byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, []byte(secret), nil), nonce, nil
}

// DecryptSecret opens a sealed secret
func (tm *TOTPManager) DecryptSecret(ciphertext, nonce []byte) (string, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

// Verify checks code against secret at time at, accepting one step either
// side. Every candidate step is generated and compared in constant time, so
// a near miss costs the same as a far miss.
func (tm *TOTPManager) Verify(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)

	match := 0
	for step := -totpSkew; step <= totpSkew; step++ {
		candidate, err := totp.GenerateCodeCustom(secret, at.Add(time.Duration(step*totpPeriod)*time.Second), totpOpts)
		if err != nil {
			return false
		}
		match |= subtle.ConstantTimeCompare([]byte(candidate), []byte(code))
	}

	return match == 1
}

// GenerateCode returns the code for secret at t (enrollment checks and tests)
func (tm *TOTPManager) GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totpOpts)
}
