package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestMemoryStore(clock *fakeClock) *MemoryStore {
	s := NewMemoryStore()
	s.now = clock.Now
	return s
}

func TestMemoryStore_SixthCallDenied(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(clock)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := store.Admit(ctx, "login:1.2.3.4", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should be admitted", i)
		assert.Equal(t, 5-i, d.Remaining)
		clock.Advance(time.Second)
	}

	d, err := store.Admit(ctx, "login:1.2.3.4", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestMemoryStore_NewWindowAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Admit(ctx, "k", 5, time.Minute)
		require.NoError(t, err)
	}
	d, _ := store.Admit(ctx, "k", 5, time.Minute)
	require.False(t, d.Allowed)

	// exactly one window later is still the same window
	clock.Advance(time.Minute)
	d, _ = store.Admit(ctx, "k", 5, time.Minute)
	assert.False(t, d.Allowed)

	clock.Advance(time.Second)
	d, _ = store.Admit(ctx, "k", 5, time.Minute)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestMemoryStore_RejectionDoesNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(clock)
	ctx := context.Background()

	_, _ = store.Admit(ctx, "k", 1, time.Minute)
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		d, _ := store.Admit(ctx, "k", 1, time.Minute)
		assert.False(t, d.Allowed)
	}

	clock.Advance(11 * time.Second)
	d, _ := store.Admit(ctx, "k", 1, time.Minute)
	assert.True(t, d.Allowed)
}

func TestMemoryStore_ScopesAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = store.Admit(ctx, Key(ScopeLogin, "ip"), 3, time.Minute)
	}
	d, _ := store.Admit(ctx, Key(ScopeLogin, "ip"), 3, time.Minute)
	assert.False(t, d.Allowed)

	d, _ = store.Admit(ctx, Key(ScopeGlobal, "ip"), 3, time.Minute)
	assert.True(t, d.Allowed)
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(clock)
	ctx := context.Background()

	_, _ = store.Admit(ctx, "old", 5, time.Minute)
	clock.Advance(4 * time.Minute)
	_, _ = store.Admit(ctx, "recent", 5, 30*time.Second)
	require.Equal(t, 2, store.Len())

	// 5 x largest window (1m) since "old" was last seen
	removed := store.Sweep(clock.Now().Add(time.Minute + time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	assert.Equal(t, 0, NewMemoryStore().Sweep(time.Now()))
}

func TestMemoryStore_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Admit(ctx, "hot", 25, time.Hour)
			if err == nil && d.Allowed {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), admitted)
}
