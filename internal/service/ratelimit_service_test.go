package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telemetry-service/internal/models"
)

// fakeWindowStore is an in-memory WindowStore shared by the limiter and
// tracking tests.
type fakeWindowStore struct {
	mu      sync.Mutex
	entries map[string]*models.RateLimitEntry
	getErr  error
	putErr  error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{entries: make(map[string]*models.RateLimitEntry)}
}

func (s *fakeWindowStore) GetEntry(_ context.Context, key string) (*models.RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (s *fakeWindowStore) PutEntry(_ context.Context, key string, entry *models.RateLimitEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	copied := *entry
	s.entries[key] = &copied
	return nil
}

func (s *fakeWindowStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func newTestRateLimiter(store WindowStore) *RateLimitService {
	return NewRateLimitService(store, time.Minute, zap.NewNop())
}

func TestRateLimitWindowBudget(t *testing.T) {
	store := newFakeWindowStore()
	limiter := newTestRateLimiter(store)

	start := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return start }

	policy := RateLimitPolicy{MaxRequests: 5, Window: 60 * time.Second}
	ctx := context.Background()

	for i, wantRemaining := range []int{4, 3, 2, 1, 0} {
		decision := limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
		require.True(t, decision.Allowed, "request %d should be within budget", i+1)
		assert.Equal(t, wantRemaining, decision.Remaining)
		assert.Equal(t, start.Add(60*time.Second), decision.ResetAt)
	}

	decision := limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, start.Add(60*time.Second), decision.ResetAt)
}

func TestRateLimitIdentifiersAreIndependent(t *testing.T) {
	store := newFakeWindowStore()
	limiter := newTestRateLimiter(store)

	policy := RateLimitPolicy{MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	first := limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
	require.True(t, first.Allowed)

	blocked := limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
	assert.False(t, blocked.Allowed)

	other := limiter.Check(ctx, "track-page-view", "198.51.100.23", policy)
	assert.True(t, other.Allowed, "a different identifier has its own window")
}

func TestRateLimitWindowReset(t *testing.T) {
	store := newFakeWindowStore()
	limiter := newTestRateLimiter(store)

	start := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	now := start
	limiter.now = func() time.Time { return now }

	policy := RateLimitPolicy{MaxRequests: 2, Window: 60 * time.Second}
	ctx := context.Background()

	limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
	limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
	blocked := limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
	require.False(t, blocked.Allowed)

	// Once ResetAt passes, the stale entry counts as a fresh window even
	// before the sweeper runs.
	now = start.Add(61 * time.Second)
	fresh := limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
	assert.True(t, fresh.Allowed)
	assert.Equal(t, 1, fresh.Remaining)
	assert.Equal(t, now.Add(60*time.Second), fresh.ResetAt)
}

func TestRateLimitFailsOpen(t *testing.T) {
	policy := RateLimitPolicy{MaxRequests: 5, Window: time.Minute}
	ctx := context.Background()

	t.Run("read failure", func(t *testing.T) {
		store := newFakeWindowStore()
		store.getErr = errors.New("connection refused")
		limiter := newTestRateLimiter(store)

		decision := limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
		assert.True(t, decision.Allowed)
	})

	t.Run("write failure", func(t *testing.T) {
		store := newFakeWindowStore()
		store.putErr = errors.New("connection refused")
		limiter := newTestRateLimiter(store)

		decision := limiter.Check(ctx, "track-page-view", "203.0.113.7", policy)
		assert.True(t, decision.Allowed)
	})
}

func TestSweepExpiredRemovesOnlyPassedWindows(t *testing.T) {
	store := newFakeWindowStore()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, store.PutEntry(ctx, "rate_limit:a", &models.RateLimitEntry{Count: 5, ResetAt: now.Add(-time.Second)}))
	require.NoError(t, store.PutEntry(ctx, "rate_limit:b", &models.RateLimitEntry{Count: 2, ResetAt: now.Add(time.Minute)}))

	removed, err := store.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	survivor, err := store.GetEntry(ctx, "rate_limit:b")
	require.NoError(t, err)
	assert.NotNil(t, survivor)
}
