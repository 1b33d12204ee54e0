package models

import "time"

// TwoFactorCredential holds a user's TOTP secret and remaining recovery codes.
// A credential is pending until the first correct code is confirmed.
type TwoFactorCredential struct {
	UserID           string
	SecretCiphertext []byte // AES-256-GCM encrypted base32 secret
	SecretNonce      []byte // GCM nonce (12 bytes)
	RecoveryCodes    []string // bcrypt hashes, each usable once
	Enabled          bool
	CreatedAt        time.Time
	EnabledAt        *time.Time
}

// TwoFactorEnrollment is shown to the user exactly once during setup
type TwoFactorEnrollment struct {
	Secret        string   `json:"secret"`
	OTPAuthURI    string   `json:"otpauth_uri"`
	QRCode        string   `json:"qr_code"`
	RecoveryCodes []string `json:"recovery_codes"`
}
