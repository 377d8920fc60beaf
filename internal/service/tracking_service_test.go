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

	"telemetry-service/internal/bucketing"
	"telemetry-service/internal/config"
	"telemetry-service/internal/models"
)

type fakeEventStore struct {
	mu        sync.Mutex
	inserted  []*models.ViewEvent
	recent    bool
	recentErr error
	insertErr error
	counts    map[string]uint64
	deleteErr error
	deleted   []string
}

func (s *fakeEventStore) Insert(_ context.Context, ev *models.ViewEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, ev)
	return nil
}

func (s *fakeEventStore) HasRecentView(_ context.Context, _, _, _ string, _ time.Time) (bool, error) {
	if s.recentErr != nil {
		return false, s.recentErr
	}
	return s.recent, nil
}

func (s *fakeEventStore) CountsByDate(_ context.Context, _, _ string) (map[string]uint64, error) {
	return s.counts, nil
}

func (s *fakeEventStore) DeleteBySubject(_ context.Context, subjectType, subjectID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, subjectType+":"+subjectID)
	return nil
}

type fakePublisher struct {
	published  []*models.ViewEvent
	publishErr error
}

func (p *fakePublisher) PublishTrackedView(_ context.Context, ev *models.ViewEvent) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.published = append(p.published, ev)
	return nil
}

func newTestTrackingService(events ViewEventStore, publisher ViewPublisher) *TrackingService {
	cfg := &config.Config{
		Tracking: config.TrackingConfig{
			RateLimitMax:    5,
			RateLimitWindow: 60 * time.Second,
			DedupWindow:     30 * time.Minute,
			DailySeriesDays: 7,
			SweepInterval:   5 * time.Minute,
		},
		Bucketing: config.BucketingConfig{UserBuckets: 64, EventBuckets: 16},
	}
	limiter := NewRateLimitService(newFakeWindowStore(), cfg.Tracking.SweepInterval, zap.NewNop())
	return NewTrackingService(events, limiter, publisher, bucketing.NewBucketingManager(cfg), cfg.Tracking, zap.NewNop())
}

func TestTrackPersistsOneEvent(t *testing.T) {
	store := &fakeEventStore{}
	publisher := &fakePublisher{}
	svc := newTestTrackingService(store, publisher)

	viewedAt := time.Date(2024, 5, 10, 23, 59, 0, 0, time.UTC)
	svc.now = func() time.Time { return viewedAt }

	result, err := svc.Track(context.Background(), &TrackRequest{
		ProfileID: "profile-1",
		ClientIP:  "203.0.113.7:4711, 10.0.0.1",
		UserAgent: "Mozilla/5.0",
		Referrer:  "https://example.com",
	})
	require.NoError(t, err)
	assert.True(t, result.Tracked)
	assert.Empty(t, result.SkippedReason)

	require.Len(t, store.inserted, 1)
	ev := store.inserted[0]
	assert.Equal(t, models.SubjectProfile, ev.SubjectType)
	assert.Equal(t, "profile-1", ev.SubjectID)
	assert.Equal(t, "203.0.113.7", ev.ClientIP)
	assert.Equal(t, "2024-05-10", ev.EventDate)
	assert.Equal(t, viewedAt, ev.ViewedAt)
	require.NotNil(t, ev.Referrer)
	assert.Equal(t, "https://example.com", *ev.Referrer)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, ev.EventID, publisher.published[0].EventID)
}

func TestTrackSubjectValidation(t *testing.T) {
	store := &fakeEventStore{}
	svc := newTestTrackingService(store, nil)
	ctx := context.Background()

	_, err := svc.Track(ctx, &TrackRequest{ClientIP: "203.0.113.7"})
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = svc.Track(ctx, &TrackRequest{ProfileID: "p", LockerID: "l", ClientIP: "203.0.113.7"})
	assert.ErrorIs(t, err, ErrInvalidSubject)

	assert.Empty(t, store.inserted)
}

func TestTrackSkipsBots(t *testing.T) {
	store := &fakeEventStore{}
	svc := newTestTrackingService(store, nil)

	for _, ua := range []string{"Googlebot/2.1", "Mozilla/5.0 (compatible; YandexSpider)", "my-CRAWLER/1.0"} {
		result, err := svc.Track(context.Background(), &TrackRequest{
			LockerID:  "locker-1",
			ClientIP:  "203.0.113.7",
			UserAgent: ua,
		})
		require.NoError(t, err)
		assert.False(t, result.Tracked, "user agent %q should be filtered", ua)
		assert.Equal(t, SkipReasonBot, result.SkippedReason)
	}

	assert.Empty(t, store.inserted)
}

func TestTrackRateLimitsPerClientIP(t *testing.T) {
	store := &fakeEventStore{}
	svc := newTestTrackingService(store, nil)
	ctx := context.Background()

	req := &TrackRequest{ProfileID: "profile-1", ClientIP: "203.0.113.7", UserAgent: "Mozilla/5.0"}
	for i := 0; i < 5; i++ {
		result, err := svc.Track(ctx, req)
		require.NoError(t, err)
		assert.True(t, result.Tracked)
	}

	result, err := svc.Track(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.Tracked)
	assert.Equal(t, SkipReasonRateLimited, result.SkippedReason)
	require.NotNil(t, result.RateLimit, "throttled result must carry the decision for headers")
	assert.Equal(t, 0, result.RateLimit.Remaining)

	// Only the admitted requests reached the store.
	assert.Len(t, store.inserted, 5)
}

func TestTrackSkipsRecentView(t *testing.T) {
	store := &fakeEventStore{recent: true}
	svc := newTestTrackingService(store, nil)

	result, err := svc.Track(context.Background(), &TrackRequest{
		ProfileID: "profile-1",
		ClientIP:  "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)
	assert.False(t, result.Tracked)
	assert.Equal(t, SkipReasonRecentView, result.SkippedReason)
	assert.Empty(t, store.inserted)
}

func TestTrackRecencyCheckFailureStillTracks(t *testing.T) {
	store := &fakeEventStore{recentErr: errors.New("clickhouse timeout")}
	svc := newTestTrackingService(store, nil)

	result, err := svc.Track(context.Background(), &TrackRequest{
		ProfileID: "profile-1",
		ClientIP:  "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)
	assert.True(t, result.Tracked)
	assert.Len(t, store.inserted, 1)
}

func TestTrackInsertFailure(t *testing.T) {
	store := &fakeEventStore{insertErr: errors.New("clickhouse down")}
	svc := newTestTrackingService(store, nil)

	_, err := svc.Track(context.Background(), &TrackRequest{
		ProfileID: "profile-1",
		ClientIP:  "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})
	assert.ErrorIs(t, err, ErrTrackingFailed)
}

func TestTrackPublishFailureDoesNotFailRequest(t *testing.T) {
	store := &fakeEventStore{}
	publisher := &fakePublisher{publishErr: errors.New("broker unreachable")}
	svc := newTestTrackingService(store, publisher)

	result, err := svc.Track(context.Background(), &TrackRequest{
		ProfileID: "profile-1",
		ClientIP:  "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)
	assert.True(t, result.Tracked)
	assert.Len(t, store.inserted, 1)
}
