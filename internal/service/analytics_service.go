package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telemetry-service/internal/models"
	"telemetry-service/internal/util"
)

var ErrUnknownSubjectType = errors.New("unknown subject type")

// DailyStat is one point of the daily series. Derived on read, never stored.
type DailyStat struct {
	Date  string `json:"date"`
	Count uint64 `json:"count"`
}

// Summary is the rollup for one subject: lifetime total, today's count, and a
// fixed-length daily series ordered oldest to newest with explicit zeros.
type Summary struct {
	Total       uint64      `json:"total"`
	Today       uint64      `json:"today"`
	DailySeries []DailyStat `json:"daily_series"`
}

// AnalyticsService computes view rollups. Pure read-and-derive: no side
// effects, safe to call repeatedly and concurrently.
type AnalyticsService struct {
	events     ViewEventStore
	seriesDays int
	logger     *zap.Logger
	now        func() time.Time
}

func NewAnalyticsService(events ViewEventStore, seriesDays int, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		events:     events,
		seriesDays: seriesDays,
		logger:     logger,
		now:        time.Now,
	}
}

// Summarize builds the rollup for one subject. Days are UTC calendar dates,
// not rolling 24h windows.
func (s *AnalyticsService) Summarize(ctx context.Context, subjectType, subjectID string) (*Summary, error) {
	if !models.ValidSubjectType(subjectType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubjectType, subjectType)
	}

	counts, err := s.events.CountsByDate(ctx, subjectType, subjectID)
	if err != nil {
		s.logger.Error("Failed to load view counts",
			util.String("subject_type", subjectType),
			util.String("subject_id", subjectID),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to summarize views: %w", err)
	}

	today := s.now().UTC()
	todayKey := today.Format("2006-01-02")

	summary := &Summary{
		Today:       counts[todayKey],
		DailySeries: make([]DailyStat, 0, s.seriesDays),
	}

	for _, cnt := range counts {
		summary.Total += cnt
	}

	// Oldest first; days without events appear with count 0.
	for i := s.seriesDays - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i).Format("2006-01-02")
		summary.DailySeries = append(summary.DailySeries, DailyStat{
			Date:  date,
			Count: counts[date],
		})
	}

	return summary, nil
}

// Clear deletes all view events for the subject. Destructive and
// irreversible; the caller is responsible for confirming the action.
func (s *AnalyticsService) Clear(ctx context.Context, subjectType, subjectID string) error {
	if !models.ValidSubjectType(subjectType) {
		return fmt.Errorf("%w: %s", ErrUnknownSubjectType, subjectType)
	}

	if err := s.events.DeleteBySubject(ctx, subjectType, subjectID); err != nil {
		s.logger.Error("Failed to clear analytics",
			util.String("subject_type", subjectType),
			util.String("subject_id", subjectID),
			util.ErrorField(err))
		return fmt.Errorf("failed to clear analytics: %w", err)
	}

	s.logger.Info("Analytics cleared",
		util.String("subject_type", subjectType),
		util.String("subject_id", subjectID),
	)

	return nil
}
