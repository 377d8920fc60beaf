package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telemetry-service/internal/client"
	"telemetry-service/internal/models"
	"telemetry-service/internal/util"
)

// ViewEventRepository persists raw view events. Rows are immutable once
// written; the only delete path is the subject-scoped clear.
type ViewEventRepository struct {
	client *client.ClickHouseClient
	logger *zap.Logger
}

func NewViewEventRepository(client *client.ClickHouseClient, logger *zap.Logger) *ViewEventRepository {
	return &ViewEventRepository{
		client: client,
		logger: logger,
	}
}

// Insert writes one view event row.
func (r *ViewEventRepository) Insert(ctx context.Context, ev *models.ViewEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var referrer string
	if ev.Referrer != nil {
		referrer = *ev.Referrer
	}

	err := r.client.Exec(ctx, `
        INSERT INTO view_events (
            event_bucket, event_id, subject_type, subject_id,
            client_ip, user_agent, referrer, event_date, viewed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventBucket, ev.EventID.String(), ev.SubjectType, ev.SubjectID,
		ev.ClientIP, ev.UserAgent, referrer, ev.EventDate, ev.ViewedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert view event: %w", err)
	}

	r.logger.Debug("View event inserted",
		util.String("event_id", ev.EventID.String()),
		util.String("subject_type", ev.SubjectType),
		util.String("subject_id", ev.SubjectID),
	)

	return nil
}

// HasRecentView reports whether the same subject has already been viewed from
// the same client address since the given instant.
func (r *ViewEventRepository) HasRecentView(ctx context.Context, subjectType, subjectID, clientIP string, since time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var count uint64
	row := r.client.QueryRow(ctx, `
        SELECT count()
        FROM view_events
        WHERE subject_type = ? AND subject_id = ? AND client_ip = ? AND viewed_at >= ?`,
		subjectType, subjectID, clientIP, since,
	)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query recent views: %w", err)
	}

	return count > 0, nil
}

// CountsByDate returns per-calendar-date view counts for the subject across
// all stored rows. The rollup derives total, today and the daily series from
// this single aggregate.
func (r *ViewEventRepository) CountsByDate(ctx context.Context, subjectType, subjectID string) (map[string]uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.client.QueryRows(ctx, `
        SELECT event_date, count() AS cnt
        FROM view_events
        WHERE subject_type = ? AND subject_id = ?
        GROUP BY event_date`,
		subjectType, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query view counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var (
			date string
			cnt  uint64
		)
		if err := rows.Scan(&date, &cnt); err != nil {
			return nil, fmt.Errorf("failed to scan view count row: %w", err)
		}
		counts[date] = cnt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read view count rows: %w", err)
	}

	return counts, nil
}

// DeleteBySubject removes every row for the subject. Destructive and
// irreversible; confirmation is the caller's responsibility.
func (r *ViewEventRepository) DeleteBySubject(ctx context.Context, subjectType, subjectID string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := r.client.Exec(ctx, `
        ALTER TABLE view_events DELETE
        WHERE subject_type = ? AND subject_id = ?`,
		subjectType, subjectID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete view events: %w", err)
	}

	r.logger.Info("View events cleared for subject",
		util.String("subject_type", subjectType),
		util.String("subject_id", subjectID),
	)

	return nil
}
