package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/google/uuid"
)

// In-memory repositories. Each one is guarded by a mutex so the atomicity
// the Postgres implementations provide holds here too.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

func syncRun(fn func()) { fn() }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memUserRepository

type memUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User

	GetByEmailErr error
}

func newMemUserRepository(users ...*models.User) *memUserRepository {
	r := &memUserRepository{users: make(map[string]*models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (r *memUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetByEmailErr != nil {
		return nil, r.GetByEmailErr
	}
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

// memAttemptRepository

type memAttemptRepository struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt
	now      func() time.Time

	RecordErr error
}

func newMemAttemptRepository(now func() time.Time) *memAttemptRepository {
	return &memAttemptRepository{now: now}
}

func (r *memAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RecordErr != nil {
		return r.RecordErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = r.now()
	}
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *memAttemptRepository) CountFailures(ctx context.Context, email string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	for _, a := range r.attempts {
		if a.Email != email || a.Success || a.AttemptedAt.Before(since) {
			continue
		}
		if a.FailureReason != nil && isUnpenalized(*a.FailureReason) {
			continue
		}
		count++
	}
	return count, nil
}

func isUnpenalized(reason string) bool {
	for _, r := range models.UnpenalizedFailureReasons {
		if r == reason {
			return true
		}
	}
	return false
}

func (r *memAttemptRepository) DistinctSuccessfulIPs(ctx context.Context, userID string, since time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, a := range r.attempts {
		if a.Success && a.UserID != nil && *a.UserID == userID && !a.AttemptedAt.Before(since) {
			seen[a.IPAddress] = struct{}{}
		}
	}
	ips := make([]string, 0, len(seen))
	for ip := range seen {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips, nil
}

func (r *memAttemptRepository) Recent(ctx context.Context, filter models.LoginAttemptFilter) ([]*models.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.LoginAttempt, 0)
	for i := len(r.attempts) - 1; i >= 0; i-- {
		a := r.attempts[i]
		if filter.Email != "" && a.Email != filter.Email {
			continue
		}
		out = append(out, &a)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *memAttemptRepository) all() []models.LoginAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.LoginAttempt(nil), r.attempts...)
}

// memLockRepository

type memLockRepository struct {
	mu    sync.Mutex
	locks []models.AccountLock

	GetActiveErr error
}

func (r *memLockRepository) GetActive(ctx context.Context, userID string, now time.Time) (*models.AccountLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetActiveErr != nil {
		return nil, r.GetActiveErr
	}
	return r.activeLocked(userID, now)
}

func (r *memLockRepository) activeLocked(userID string, now time.Time) (*models.AccountLock, error) {
	for i := range r.locks {
		if r.locks[i].UserID == userID && r.locks[i].IsActiveAt(now) {
			cp := r.locks[i]
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memLockRepository) CreateIfNoneActive(ctx context.Context, lock *models.AccountLock, now time.Time) (*models.AccountLock, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, err := r.activeLocked(lock.UserID, now); err == nil {
		return existing, false, nil
	}
	lock.ID = uuid.New().String()
	lock.CreatedAt = now
	r.locks = append(r.locks, *lock)
	cp := *lock
	return &cp, true, nil
}

func (r *memLockRepository) ReleaseActive(ctx context.Context, userID, releasedBy string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	released := false
	for i := range r.locks {
		if r.locks[i].UserID == userID && r.locks[i].IsActiveAt(now) {
			by, at := releasedBy, now
			r.locks[i].LockedUntil = now
			r.locks[i].ReleasedBy = &by
			r.locks[i].ReleasedAt = &at
			released = true
		}
	}
	return released, nil
}

func (r *memLockRepository) LastReleasedAt(ctx context.Context, userID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *time.Time
	for _, l := range r.locks {
		if l.UserID == userID && l.ReleasedAt != nil && (last == nil || l.ReleasedAt.After(*last)) {
			at := *l.ReleasedAt
			last = &at
		}
	}
	return last, nil
}

func (r *memLockRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// memAlertRepository

type memAlertRepository struct {
	mu     sync.Mutex
	alerts []*models.SecurityAlert
}

func (r *memAlertRepository) CreateIfNoneOpen(ctx context.Context, alert *models.SecurityAlert, since time.Time) (*models.SecurityAlert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.Type == alert.Type && sameUser(a.UserID, alert.UserID) && !a.IsResolved() && !a.CreatedAt.Before(since) {
			cp := *a
			return &cp, false, nil
		}
	}
	alert.ID = uuid.New().String()
	stored := *alert
	r.alerts = append(r.alerts, &stored)
	cp := stored
	return &cp, true, nil
}

func sameUser(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *memAlertRepository) List(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.SecurityAlert, 0)
	for i := len(r.alerts) - 1; i >= 0; i-- {
		a := r.alerts[i]
		if filter.OpenOnly && a.IsResolved() {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memAlertRepository) Resolve(ctx context.Context, id, resolvedBy string, at time.Time) (*models.SecurityAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID != id {
			continue
		}
		if a.IsResolved() {
			return nil, models.ErrConflict
		}
		by, when := resolvedBy, at
		a.ResolvedBy = &by
		a.ResolvedAt = &when
		cp := *a
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (r *memAlertRepository) ofType(alertType string) []*models.SecurityAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SecurityAlert
	for _, a := range r.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

// memTwoFactorRepository

type memTwoFactorRepository struct {
	mu    sync.Mutex
	creds map[string]*models.TwoFactorCredential

	// matchDelay widens the window between read and write in ConsumeRecoveryCode
	matchDelay time.Duration
	GetErr     error
}

func newMemTwoFactorRepository() *memTwoFactorRepository {
	return &memTwoFactorRepository{creds: make(map[string]*models.TwoFactorCredential)}
}

func (r *memTwoFactorRepository) Get(ctx context.Context, userID string) (*models.TwoFactorCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	c, ok := r.creds[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	cp.RecoveryCodes = append([]string(nil), c.RecoveryCodes...)
	return &cp, nil
}

func (r *memTwoFactorRepository) UpsertPending(ctx context.Context, cred *models.TwoFactorCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.creds[cred.UserID]; ok && existing.Enabled {
		return models.ErrConflict
	}
	cp := *cred
	cp.Enabled = false
	cp.EnabledAt = nil
	r.creds[cred.UserID] = &cp
	return nil
}

func (r *memTwoFactorRepository) Enable(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[userID]
	if !ok || c.Enabled {
		return models.ErrNotFound
	}
	c.Enabled = true
	c.EnabledAt = &at
	return nil
}

func (r *memTwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, userID string, match func(hash string) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[userID]
	if !ok || !c.Enabled {
		return false, models.ErrNotFound
	}
	if r.matchDelay > 0 {
		time.Sleep(r.matchDelay)
	}
	for i, hash := range c.RecoveryCodes {
		if match(hash) {
			c.RecoveryCodes = append(c.RecoveryCodes[:i:i], c.RecoveryCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memTwoFactorRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, hashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[userID]
	if !ok || !c.Enabled {
		return models.ErrNotFound
	}
	c.RecoveryCodes = hashes
	return nil
}

func (r *memTwoFactorRepository) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[userID]; !ok {
		return models.ErrNotFound
	}
	delete(r.creds, userID)
	return nil
}

// recordingNotifier

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*models.SecurityAlert
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, alert *models.SecurityAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}
