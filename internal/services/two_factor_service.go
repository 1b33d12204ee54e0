package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// TwoFactorConfig sizes the recovery code set
type TwoFactorConfig struct {
	RecoveryCodeCount int
	RecoveryCodeCost  int // bcrypt cost for stored code hashes
}

// TwoFactorService manages TOTP enrollment and verification
type TwoFactorService struct {
	config      TwoFactorConfig
	repo        TwoFactorRepository
	totp        *auth.TOTPManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewTwoFactorService(config TwoFactorConfig, repo TwoFactorRepository, totp *auth.TOTPManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, m *metrics.Metrics) *TwoFactorService {
	if config.RecoveryCodeCount <= 0 {
		config.RecoveryCodeCount = 10
	}
	if config.RecoveryCodeCost <= 0 {
		config.RecoveryCodeCost = pkgauth.BcryptCost
	}
	return &TwoFactorService{
		config:      config,
		repo:        repo,
		totp:        totp,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		now:         time.Now,
	}
}

// IsEnabled reports whether userID has a confirmed credential
func (s *TwoFactorService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	cred, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load two-factor credential: %w", err)
	}
	return cred.Enabled, nil
}

// Setup stores a pending credential and returns the one-time enrollment
// material. Setup may be repeated until the credential is confirmed.
func (s *TwoFactorService) Setup(ctx context.Context, userID, email string) (*models.TwoFactorEnrollment, error) {
	enabled, err := s.IsEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if enabled {
		return nil, models.ErrTwoFactorAlreadyEnabled
	}

	enrollment, err := s.totp.Enroll(email)
	if err != nil {
		return nil, err
	}

	codes, hashes, err := s.newRecoveryCodes()
	if err != nil {
		return nil, err
	}

	err = s.repo.UpsertPending(ctx, &models.TwoFactorCredential{
		UserID:           userID,
		SecretCiphertext: enrollment.Ciphertext,
		SecretNonce:      enrollment.Nonce,
		RecoveryCodes:    hashes,
		CreatedAt:        s.now(),
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrTwoFactorAlreadyEnabled
		}
		return nil, fmt.Errorf("failed to store pending credential: %w", err)
	}

	s.auditLogger.LogTwoFactorEvent(ctx, "two_factor_setup_started", userID, true)

	return &models.TwoFactorEnrollment{
		Secret:        enrollment.Secret,
		OTPAuthURI:    enrollment.URI,
		QRCode:        enrollment.QRCode,
		RecoveryCodes: codes,
	}, nil
}

// Confirm enables a pending credential on the first correct code
func (s *TwoFactorService) Confirm(ctx context.Context, userID, code string) error {
	cred, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTwoFactorNotPending
		}
		return fmt.Errorf("failed to load two-factor credential: %w", err)
	}
	if cred.Enabled {
		return models.ErrTwoFactorAlreadyEnabled
	}

	ok, err := s.checkTOTP(cred, code)
	if err != nil {
		return err
	}
	if !ok {
		s.auditLogger.LogTwoFactorEvent(ctx, "two_factor_confirm_failed", userID, false)
		return models.ErrInvalidTwoFactorCode
	}

	if err := s.repo.Enable(ctx, userID, s.now()); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// confirmed concurrently
			return models.ErrTwoFactorAlreadyEnabled
		}
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}

	s.logger.Info("two-factor enabled", slog.String("user_id", userID))
	s.auditLogger.LogTwoFactorEvent(ctx, "two_factor_enabled", userID, true)
	return nil
}

// VerifyTOTP checks code against the user's enabled credential
func (s *TwoFactorService) VerifyTOTP(ctx context.Context, userID, code string) (bool, error) {
	cred, err := s.enabledCredential(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.checkTOTP(cred, code)
}

// VerifyRecoveryCode spends code if it matches one of the stored hashes.
// A code is accepted at most once, concurrent submissions included.
func (s *TwoFactorService) VerifyRecoveryCode(ctx context.Context, userID, code string) (bool, error) {
	normalized := pkgauth.NormalizeRecoveryCode(code)
	if len(normalized) != pkgauth.RecoveryCodeLength {
		return false, nil
	}

	consumed, err := s.repo.ConsumeRecoveryCode(ctx, userID, func(hash string) bool {
		return pkgauth.ComparePassword(hash, normalized) == nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}

	if consumed {
		s.metrics.RecoveryCodeUsed()
		s.auditLogger.LogTwoFactorEvent(ctx, "recovery_code_used", userID, true)
	}
	return consumed, nil
}

// Verify accepts a TOTP code or, failing that, a recovery code
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) (bool, error) {
	ok, err := s.VerifyTOTP(ctx, userID, code)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	if !pkgauth.LooksLikeRecoveryCode(code) {
		return false, nil
	}
	return s.VerifyRecoveryCode(ctx, userID, code)
}

// Disable removes the credential after a valid TOTP or recovery code
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	ok, err := s.Verify(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		s.auditLogger.LogTwoFactorEvent(ctx, "two_factor_disable_failed", userID, false)
		return models.ErrInvalidTwoFactorCode
	}

	if err := s.repo.Delete(ctx, userID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}

	s.logger.Info("two-factor disabled", slog.String("user_id", userID))
	s.auditLogger.LogTwoFactorEvent(ctx, "two_factor_disabled", userID, true)
	return nil
}

// RegenerateRecoveryCodes replaces the whole code set after a valid TOTP
func (s *TwoFactorService) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	ok, err := s.VerifyTOTP(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrInvalidTwoFactorCode
	}

	codes, hashes, err := s.newRecoveryCodes()
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceRecoveryCodes(ctx, userID, hashes); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTwoFactorNotEnabled
		}
		return nil, fmt.Errorf("failed to replace recovery codes: %w", err)
	}

	s.auditLogger.LogTwoFactorEvent(ctx, "recovery_codes_regenerated", userID, true)
	return codes, nil
}

func (s *TwoFactorService) enabledCredential(ctx context.Context, userID string) (*models.TwoFactorCredential, error) {
	cred, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTwoFactorNotEnabled
		}
		return nil, fmt.Errorf("failed to load two-factor credential: %w", err)
	}
	if !cred.Enabled {
		return nil, models.ErrTwoFactorNotEnabled
	}
	return cred, nil
}

func (s *TwoFactorService) checkTOTP(cred *models.TwoFactorCredential, code string) (bool, error) {
	secret, err := s.totp.DecryptSecret(cred.SecretCiphertext, cred.SecretNonce)
	if err != nil {
		return false, err
	}
	return s.totp.Verify(secret, code, s.now()), nil
}

func (s *TwoFactorService) newRecoveryCodes() ([]string, []string, error) {
	codes, err := pkgauth.GenerateRecoveryCodes(s.config.RecoveryCodeCount)
	if err != nil {
		return nil, nil, err
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := pkgauth.HashWithCost(pkgauth.NormalizeRecoveryCode(code), s.config.RecoveryCodeCost)
		if err != nil {
			return nil, nil, err
		}
		hashes[i] = hash
	}
	return codes, hashes, nil
}
