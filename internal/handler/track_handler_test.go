package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telemetry-service/internal/bucketing"
	"telemetry-service/internal/config"
	"telemetry-service/internal/models"
	"telemetry-service/internal/service"
)

type memoryWindowStore struct {
	entries map[string]*models.RateLimitEntry
}

func (s *memoryWindowStore) GetEntry(_ context.Context, key string) (*models.RateLimitEntry, error) {
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return entry, nil
}

func (s *memoryWindowStore) PutEntry(_ context.Context, key string, entry *models.RateLimitEntry) error {
	s.entries[key] = entry
	return nil
}

func (s *memoryWindowStore) SweepExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

type memoryEventStore struct {
	inserted  int
	insertErr error
}

func (s *memoryEventStore) Insert(_ context.Context, _ *models.ViewEvent) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted++
	return nil
}

func (s *memoryEventStore) HasRecentView(_ context.Context, _, _, _ string, _ time.Time) (bool, error) {
	return false, nil
}

func (s *memoryEventStore) CountsByDate(_ context.Context, _, _ string) (map[string]uint64, error) {
	return nil, nil
}

func (s *memoryEventStore) DeleteBySubject(_ context.Context, _, _ string) error {
	return nil
}

func newTrackTestServer(events *memoryEventStore, rateLimitMax int) *chi.Mux {
	cfg := &config.Config{
		Tracking: config.TrackingConfig{
			RateLimitMax:    rateLimitMax,
			RateLimitWindow: 60 * time.Second,
			DedupWindow:     30 * time.Minute,
			SweepInterval:   5 * time.Minute,
		},
		Bucketing: config.BucketingConfig{UserBuckets: 64, EventBuckets: 16},
	}

	logger := zap.NewNop()
	limiter := service.NewRateLimitService(&memoryWindowStore{entries: map[string]*models.RateLimitEntry{}}, cfg.Tracking.SweepInterval, logger)
	tracking := service.NewTrackingService(events, limiter, nil, bucketing.NewBucketingManager(cfg), cfg.Tracking, logger)

	router := chi.NewRouter()
	NewTrackHandler(tracking, logger).RegisterRoutes(router)
	return router
}

func postTrack(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/track-page-view", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTrackPageViewSuccess(t *testing.T) {
	events := &memoryEventStore{}
	router := newTrackTestServer(events, 5)

	rec := postTrack(t, router, `{"profileId":"profile-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, events.inserted)
}

func TestTrackPageViewBadRequests(t *testing.T) {
	router := newTrackTestServer(&memoryEventStore{}, 5)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"profileId":`},
		{"no subject", `{}`},
		{"both subjects", `{"profileId":"p","lockerId":"l"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postTrack(t, router, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
		})
	}
}

func TestTrackPageViewRateLimitHeaders(t *testing.T) {
	events := &memoryEventStore{}
	router := newTrackTestServer(events, 1)

	rec := postTrack(t, router, `{"profileId":"profile-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postTrack(t, router, `{"profileId":"profile-1"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, 1, events.inserted, "the throttled request must not persist")
}

func TestTrackPageViewStoreFailureStaysGeneric(t *testing.T) {
	events := &memoryEventStore{insertErr: errors.New("clickhouse: connection refused to 10.1.2.3:9000")}
	router := newTrackTestServer(events, 5)

	rec := postTrack(t, router, `{"profileId":"profile-1"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotContains(t, rec.Body.String(), "clickhouse", "store internals must not leak")
	assert.NotContains(t, rec.Body.String(), "10.1.2.3")
}
