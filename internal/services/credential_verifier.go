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

// LockChecker is the lockout surface the verifier drives
type LockChecker interface {
	IsLocked(ctx context.Context, userID string) (models.LockStatus, error)
	CheckAndLock(ctx context.Context, email string) (bool, error)
}

// SecondFactor is the two-factor surface the verifier drives
type SecondFactor interface {
	IsEnabled(ctx context.Context, userID string) (bool, error)
	Verify(ctx context.Context, userID, code string) (bool, error)
}

// ActivityEvaluator scores a successful login
type ActivityEvaluator interface {
	Evaluate(ctx context.Context, userID, currentIP string)
}

// SessionIssuer mints session tokens
type SessionIssuer interface {
	Issue(user *models.User) (string, models.SessionClaims, error)
	ExpiresAt(claims models.SessionClaims) time.Time
}

// PasswordCompareFunc returns nil when password matches hash
type PasswordCompareFunc func(hash, password string) error

// LoginRequest is one authentication attempt
type LoginRequest struct {
	Email     string
	Password  string
	TOTPCode  string
	IPAddress string
	UserAgent string
}

// LoginResult is a successful authentication
type LoginResult struct {
	Token     string
	Claims    models.SessionClaims
	User      *models.User
	ExpiresAt time.Time
}

// VerifierConfig bounds the expensive steps
type VerifierConfig struct {
	PasswordCheckTimeout time.Duration
	TwoFactorTimeout     time.Duration
}

type loginState int

const (
	stateStart loginState = iota
	stateLockCheck
	statePasswordCheck
	stateTwoFactorCheck
	stateRecordAttempt
	stateSuspiciousCheck
	stateIssue
	stateReject
	stateDone
)

func (s loginState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateLockCheck:
		return "lock_check"
	case statePasswordCheck:
		return "password_check"
	case stateTwoFactorCheck:
		return "two_factor_check"
	case stateRecordAttempt:
		return "record_attempt"
	case stateSuspiciousCheck:
		return "suspicious_check"
	case stateIssue:
		return "issue"
	case stateReject:
		return "reject"
	default:
		return "done"
	}
}

// loginRun is the mutable state of one pass through the machine
type loginRun struct {
	req    LoginRequest
	start  time.Time
	user   *models.User
	failed bool
	reason string
	// penalise: after recording, re-evaluate the lock threshold
	penalise bool
	err      error
	result   *LoginResult
}

func (r *loginRun) reject(reason string, err error) loginState {
	r.failed = true
	r.reason = reason
	r.err = err
	return stateRecordAttempt
}

// CredentialVerifier runs the login state machine:
//
//	START -> LOCK_CHECK -> PASSWORD_CHECK -> TWO_FACTOR_CHECK -> RECORD_ATTEMPT
//	      -> SUSPICIOUS_CHECK -> ISSUE, or RECORD_ATTEMPT -> REJECT
//
// The lock check always precedes the password check, and RECORD_ATTEMPT is
// entered exactly once per call whichever state rejected.
type CredentialVerifier struct {
	config          VerifierConfig
	users           UserRepository
	ledger          *LoginLedger
	lockout         LockChecker
	twoFactor       SecondFactor
	detector        ActivityEvaluator
	sessions        SessionIssuer
	timing          *auth.TimingDelay
	logger          *slog.Logger
	auditLogger     *pkglogger.AuditLogger
	metrics         *metrics.Metrics
	comparePassword PasswordCompareFunc
	runAsync        func(func())
}

func NewCredentialVerifier(
	config VerifierConfig,
	users UserRepository,
	ledger *LoginLedger,
	lockout LockChecker,
	twoFactor SecondFactor,
	detector ActivityEvaluator,
	sessions SessionIssuer,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *CredentialVerifier {
	if config.PasswordCheckTimeout <= 0 {
		config.PasswordCheckTimeout = 3 * time.Second
	}
	if config.TwoFactorTimeout <= 0 {
		config.TwoFactorTimeout = 3 * time.Second
	}
	return &CredentialVerifier{
		config:          config,
		users:           users,
		ledger:          ledger,
		lockout:         lockout,
		twoFactor:       twoFactor,
		detector:        detector,
		sessions:        sessions,
		timing:          timing,
		logger:          logger,
		auditLogger:     auditLogger,
		metrics:         m,
		comparePassword: pkgauth.ComparePassword,
		runAsync:        func(fn func()) { go fn() },
	}
}

// Login authenticates req. Failures are one of ErrInvalidCredentials,
// *AccountLockedError, ErrTwoFactorRequired, ErrInvalidTwoFactorCode or
// ErrInternalServer.
func (v *CredentialVerifier) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	run := &loginRun{req: req, start: time.Now()}
	run.req.Email = normalizeEmail(req.Email)

	state := stateStart
	for state != stateDone {
		next := v.step(ctx, state, run)
		v.logger.Debug("login transition",
			slog.String("from", state.String()),
			slog.String("to", next.String()),
		)
		state = next
	}

	if run.failed {
		return nil, run.err
	}
	return run.result, nil
}

func (v *CredentialVerifier) step(ctx context.Context, state loginState, run *loginRun) loginState {
	switch state {
	case stateStart:
		return v.resolveUser(ctx, run)
	case stateLockCheck:
		return v.checkLock(ctx, run)
	case statePasswordCheck:
		return v.checkPassword(ctx, run)
	case stateTwoFactorCheck:
		return v.checkTwoFactor(ctx, run)
	case stateRecordAttempt:
		return v.recordAttempt(ctx, run)
	case stateSuspiciousCheck:
		return v.scheduleSuspiciousCheck(ctx, run)
	case stateIssue:
		return v.issue(ctx, run)
	case stateReject:
		return v.finishReject(ctx, run)
	default:
		return stateDone
	}
}

func (v *CredentialVerifier) resolveUser(ctx context.Context, run *loginRun) loginState {
	if run.req.Email == "" || run.req.Password == "" {
		return run.reject(models.FailureInvalidCredentials, models.ErrInvalidCredentials)
	}

	user, err := v.users.GetByEmail(ctx, run.req.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return run.reject(models.FailureInvalidCredentials, models.ErrInvalidCredentials)
		}
		v.logger.Error("failed to look up user for login", slog.Any("error", err))
		return run.reject(models.FailureInternalError, models.ErrInternalServer)
	}

	// inactive accounts are indistinguishable from unknown ones
	if !user.IsActive() {
		return run.reject(models.FailureInvalidCredentials, models.ErrInvalidCredentials)
	}

	run.user = user
	return stateLockCheck
}

func (v *CredentialVerifier) checkLock(ctx context.Context, run *loginRun) loginState {
	status, err := v.lockout.IsLocked(ctx, run.user.ID)
	if err != nil {
		v.logger.Error("failed to check account lock", slog.String("user_id", run.user.ID), slog.Any("error", err))
		return run.reject(models.FailureInternalError, models.ErrInternalServer)
	}
	if status.Locked {
		return run.reject(models.FailureAccountLocked, &models.AccountLockedError{LockedUntil: *status.LockedUntil})
	}
	return statePasswordCheck
}

func (v *CredentialVerifier) checkPassword(ctx context.Context, run *loginRun) loginState {
	err := withTimeout(ctx, v.config.PasswordCheckTimeout, func(context.Context) error {
		return v.comparePassword(run.user.PasswordHash, run.req.Password)
	})
	switch {
	case err == nil:
		return stateTwoFactorCheck
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		v.logger.Error("password check did not complete", slog.String("user_id", run.user.ID), slog.Any("error", err))
		return run.reject(models.FailureInternalError, models.ErrInternalServer)
	default:
		run.penalise = true
		return run.reject(models.FailureInvalidCredentials, models.ErrInvalidCredentials)
	}
}

func (v *CredentialVerifier) checkTwoFactor(ctx context.Context, run *loginRun) loginState {
	enabled, err := v.twoFactor.IsEnabled(ctx, run.user.ID)
	if err != nil {
		v.logger.Error("failed to read two-factor status", slog.String("user_id", run.user.ID), slog.Any("error", err))
		return run.reject(models.FailureInternalError, models.ErrInternalServer)
	}
	if !enabled {
		return stateRecordAttempt
	}

	if run.req.TOTPCode == "" {
		return run.reject(models.FailureTwoFactorRequired, models.ErrTwoFactorRequired)
	}

	var ok bool
	err = withTimeout(ctx, v.config.TwoFactorTimeout, func(ctx context.Context) error {
		var verr error
		ok, verr = v.twoFactor.Verify(ctx, run.user.ID, run.req.TOTPCode)
		return verr
	})
	if err != nil {
		v.logger.Error("two-factor check did not complete", slog.String("user_id", run.user.ID), slog.Any("error", err))
		return run.reject(models.FailureInternalError, models.ErrInternalServer)
	}
	if !ok {
		run.penalise = true
		return run.reject(models.FailureInvalidTwoFactorCode, models.ErrInvalidTwoFactorCode)
	}
	return stateRecordAttempt
}

func (v *CredentialVerifier) recordAttempt(ctx context.Context, run *loginRun) loginState {
	// the record and the lock evaluation outlive a client that hung up
	ctx = context.WithoutCancel(ctx)

	attempt := models.LoginAttempt{
		Email:     run.req.Email,
		IPAddress: run.req.IPAddress,
		UserAgent: run.req.UserAgent,
		Success:   !run.failed,
	}
	if run.user != nil {
		id := run.user.ID
		attempt.UserID = &id
	}
	if run.failed {
		reason := run.reason
		attempt.FailureReason = &reason
	}
	v.ledger.Record(ctx, attempt)

	if !run.failed {
		return stateSuspiciousCheck
	}

	if run.penalise {
		if _, err := v.lockout.CheckAndLock(ctx, run.req.Email); err != nil {
			v.logger.Error("failed to evaluate lockout", slog.Any("error", err))
		}
	}
	return stateReject
}

func (v *CredentialVerifier) scheduleSuspiciousCheck(ctx context.Context, run *loginRun) loginState {
	detached := context.WithoutCancel(ctx)
	userID, ip := run.user.ID, run.req.IPAddress
	v.runAsync(func() {
		v.detector.Evaluate(detached, userID, ip)
	})
	return stateIssue
}

func (v *CredentialVerifier) issue(ctx context.Context, run *loginRun) loginState {
	token, claims, err := v.sessions.Issue(run.user)
	if err != nil {
		v.logger.Error("failed to issue session", slog.String("user_id", run.user.ID), slog.Any("error", err))
		run.failed = true
		run.reason = models.FailureInternalError
		run.err = models.ErrInternalServer
		return stateReject
	}

	run.result = &LoginResult{
		Token:     token,
		Claims:    claims,
		User:      run.user,
		ExpiresAt: v.sessions.ExpiresAt(claims),
	}

	v.metrics.LoginOutcome("success")
	v.logger.Info("user logged in", slog.String("user_id", run.user.ID))
	v.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    run.user.ID,
		Email:     run.req.Email,
		IPAddress: run.req.IPAddress,
		UserAgent: run.req.UserAgent,
		Success:   true,
	})
	return stateDone
}

func (v *CredentialVerifier) finishReject(ctx context.Context, run *loginRun) loginState {
	v.metrics.LoginOutcome(run.reason)

	var userID string
	if run.user != nil {
		userID = run.user.ID
	}
	v.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		Email:         run.req.Email,
		IPAddress:     run.req.IPAddress,
		UserAgent:     run.req.UserAgent,
		Success:       false,
		FailureReason: run.reason,
	})

	// a 2FA prompt follows a correct password and needs no padding
	if run.reason != models.FailureTwoFactorRequired {
		v.timing.WaitFrom(ctx, run.start)
	}
	return stateDone
}

// withTimeout runs fn, giving up after d. fn keeps running in the
// background if it ignores its context, but its result is discarded.
func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("step abandoned: %w", ctx.Err())
	}
}
