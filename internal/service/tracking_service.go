package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telemetry-service/internal/bucketing"
	"telemetry-service/internal/config"
	"telemetry-service/internal/models"
	"telemetry-service/internal/util"
)

var (
	ErrInvalidSubject = errors.New("exactly one subject reference is required")
	ErrTrackingFailed = errors.New("failed to track page view")
)

// Skip reasons surfaced on the track response.
const (
	SkipReasonBot         = "bot"
	SkipReasonRateLimited = "rate_limited"
	SkipReasonRecentView  = "recent_view"
)

const trackScope = "track-page-view"

// ViewEventStore is the persistence surface the ingestion pipeline and the
// rollup share.
type ViewEventStore interface {
	Insert(ctx context.Context, ev *models.ViewEvent) error
	HasRecentView(ctx context.Context, subjectType, subjectID, clientIP string, since time.Time) (bool, error)
	CountsByDate(ctx context.Context, subjectType, subjectID string) (map[string]uint64, error)
	DeleteBySubject(ctx context.Context, subjectType, subjectID string) error
}

// ViewPublisher fans tracked events out to downstream consumers. Optional;
// publish failures never fail the request.
type ViewPublisher interface {
	PublishTrackedView(ctx context.Context, ev *models.ViewEvent) error
}

// TrackRequest is one inbound page-view signal, untrusted as received.
type TrackRequest struct {
	ProfileID string
	LockerID  string
	ClientIP  string // raw forwarded chain or remote address
	UserAgent string
	Referrer  string
}

// TrackResult reports whether the event was persisted and, if not, why it was
// skipped. RateLimit is set on the rate_limited path so the handler can attach
// throttling headers.
type TrackResult struct {
	Tracked       bool   `json:"tracked"`
	SkippedReason string `json:"skipped_reason,omitempty"`
	RateLimit     *Decision
}

// TrackingService is the view ingestion pipeline: normalize the client
// address, then rate limit, bot filter and recency dedup in that order,
// short-circuiting on the first rejection. Exactly one insert happens on
// success and none on any skip path.
type TrackingService struct {
	events       ViewEventStore
	rateLimiter  *RateLimitService
	publisher    ViewPublisher
	bucketingMgr *bucketing.BucketingManager
	policy       RateLimitPolicy
	dedupWindow  time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewTrackingService(
	events ViewEventStore,
	rateLimiter *RateLimitService,
	publisher ViewPublisher,
	bucketingMgr *bucketing.BucketingManager,
	cfg config.TrackingConfig,
	logger *zap.Logger,
) *TrackingService {
	return &TrackingService{
		events:       events,
		rateLimiter:  rateLimiter,
		publisher:    publisher,
		bucketingMgr: bucketingMgr,
		policy: RateLimitPolicy{
			MaxRequests: cfg.RateLimitMax,
			Window:      cfg.RateLimitWindow,
		},
		dedupWindow: cfg.DedupWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// Track runs one event through the pipeline.
func (s *TrackingService) Track(ctx context.Context, req *TrackRequest) (*TrackResult, error) {
	startTime := time.Now()

	subjectType, subjectID, err := resolveSubject(req.ProfileID, req.LockerID)
	if err != nil {
		return nil, err
	}

	clientIP := util.NormalizeClientIP(req.ClientIP)

	decision := s.rateLimiter.Check(ctx, trackScope, clientIP, s.policy)
	if !decision.Allowed {
		s.logger.Debug("Page view rate limited",
			util.String("client_ip", clientIP),
			util.String("subject_type", subjectType),
			util.String("subject_id", subjectID),
		)
		return &TrackResult{SkippedReason: SkipReasonRateLimited, RateLimit: &decision}, nil
	}

	if util.IsLikelyBot(req.UserAgent) {
		s.logger.Debug("Page view skipped for bot user agent",
			util.String("user_agent", req.UserAgent),
			util.String("subject_type", subjectType),
		)
		return &TrackResult{SkippedReason: SkipReasonBot}, nil
	}

	now := s.now().UTC()

	recent, err := s.events.HasRecentView(ctx, subjectType, subjectID, clientIP, now.Add(-s.dedupWindow))
	if err != nil {
		// Best-effort guard: a failed recency check must not drop the view.
		s.logger.Warn("Recency check failed, treating as no recent view",
			util.String("subject_type", subjectType),
			util.String("subject_id", subjectID),
			util.ErrorField(err))
	} else if recent {
		return &TrackResult{SkippedReason: SkipReasonRecentView}, nil
	}

	event := &models.ViewEvent{
		EventBucket: s.bucketingMgr.GetEventBucket(subjectType, subjectID),
		EventID:     uuid.New(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		ClientIP:    clientIP,
		UserAgent:   req.UserAgent,
		EventDate:   now.Format("2006-01-02"),
		ViewedAt:    now,
	}
	if req.Referrer != "" {
		referrer := req.Referrer
		event.Referrer = &referrer
	}

	// The insert runs on a detached context so a client disconnect cannot
	// abort a half-committed write.
	writeCtx := context.WithoutCancel(ctx)
	if err := s.events.Insert(writeCtx, event); err != nil {
		s.logger.Error("Failed to persist view event",
			util.String("subject_type", subjectType),
			util.String("subject_id", subjectID),
			util.ErrorField(err))
		return nil, ErrTrackingFailed
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTrackedView(writeCtx, event); err != nil {
			s.logger.Warn("Failed to publish tracked view",
				util.String("event_id", event.EventID.String()),
				util.ErrorField(err))
		}
	}

	s.logger.Info("Page view tracked",
		util.String("subject_type", subjectType),
		util.String("subject_id", subjectID),
		util.String("client_ip", clientIP),
		util.Duration("duration", time.Since(startTime)),
	)

	return &TrackResult{Tracked: true}, nil
}

// resolveSubject enforces the exactly-one-subject invariant.
func resolveSubject(profileID, lockerID string) (string, string, error) {
	switch {
	case profileID != "" && lockerID != "":
		return "", "", fmt.Errorf("%w: both profileId and lockerId present", ErrInvalidSubject)
	case profileID != "":
		return models.SubjectProfile, profileID, nil
	case lockerID != "":
		return models.SubjectLocker, lockerID, nil
	default:
		return "", "", fmt.Errorf("%w: neither profileId nor lockerId present", ErrInvalidSubject)
	}
}
