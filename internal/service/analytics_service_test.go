package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telemetry-service/internal/models"
)

func newTestAnalyticsService(store ViewEventStore, seriesDays int, now time.Time) *AnalyticsService {
	svc := NewAnalyticsService(store, seriesDays, zap.NewNop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	store := &fakeEventStore{counts: map[string]uint64{
		"2024-05-10": 3,
		"2024-05-09": 2,
		"2024-04-01": 7, // outside the series window, still part of the total
	}}
	svc := newTestAnalyticsService(store, 7, now)

	summary, err := svc.Summarize(context.Background(), models.SubjectProfile, "profile-1")
	require.NoError(t, err)

	assert.Equal(t, uint64(12), summary.Total)
	assert.Equal(t, uint64(3), summary.Today)

	require.Len(t, summary.DailySeries, 7)
	assert.Equal(t, "2024-05-04", summary.DailySeries[0].Date, "series starts at the oldest day")
	assert.Equal(t, "2024-05-10", summary.DailySeries[6].Date, "series ends today")

	wantCounts := []uint64{0, 0, 0, 0, 0, 2, 3}
	for i, stat := range summary.DailySeries {
		assert.Equal(t, wantCounts[i], stat.Count, "day %s", stat.Date)
	}
}

func TestSummarizeEmptySubject(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeEventStore{counts: map[string]uint64{}}
	svc := newTestAnalyticsService(store, 7, now)

	summary, err := svc.Summarize(context.Background(), models.SubjectLocker, "locker-1")
	require.NoError(t, err)

	assert.Equal(t, uint64(0), summary.Total)
	assert.Equal(t, uint64(0), summary.Today)
	require.Len(t, summary.DailySeries, 7)
	for _, stat := range summary.DailySeries {
		assert.Equal(t, uint64(0), stat.Count)
	}
}

func TestSummarizeTodayIsCalendarDate(t *testing.T) {
	// 00:05 UTC: yesterday's views do not count as today even though they
	// fall inside the trailing 24 hours.
	now := time.Date(2024, 5, 10, 0, 5, 0, 0, time.UTC)
	store := &fakeEventStore{counts: map[string]uint64{
		"2024-05-09": 4,
		"2024-05-10": 1,
	}}
	svc := newTestAnalyticsService(store, 7, now)

	summary, err := svc.Summarize(context.Background(), models.SubjectProfile, "profile-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), summary.Today)
	assert.Equal(t, uint64(5), summary.Total)
}

func TestSummarizeUnknownSubjectType(t *testing.T) {
	svc := newTestAnalyticsService(&fakeEventStore{}, 7, time.Now())

	_, err := svc.Summarize(context.Background(), "page", "x")
	assert.ErrorIs(t, err, ErrUnknownSubjectType)
}

func TestClear(t *testing.T) {
	store := &fakeEventStore{}
	svc := newTestAnalyticsService(store, 7, time.Now())

	err := svc.Clear(context.Background(), models.SubjectLocker, "locker-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"locker:locker-1"}, store.deleted)

	err = svc.Clear(context.Background(), "page", "x")
	assert.ErrorIs(t, err, ErrUnknownSubjectType)
}
