package service

import (
	"go.uber.org/zap"

	"telemetry-service/internal/bucketing"
	"telemetry-service/internal/config"
	"telemetry-service/internal/repository/scylla"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	windowStore  WindowStore
	events       ViewEventStore
	publisher    ViewPublisher
	entities     scylla.EntityRepository
	bucketingMgr *bucketing.BucketingManager
	cfg          *config.Config
	logger       *zap.Logger

	rateLimitService  *RateLimitService
	trackingService   *TrackingService
	analyticsService  *AnalyticsService
	onboardingService *OnboardingService
}

// NewServiceFactory creates a new service factory. publisher may be nil when
// Kafka is disabled.
func NewServiceFactory(
	windowStore WindowStore,
	events ViewEventStore,
	publisher ViewPublisher,
	entities scylla.EntityRepository,
	bucketingMgr *bucketing.BucketingManager,
	cfg *config.Config,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		windowStore:  windowStore,
		events:       events,
		publisher:    publisher,
		entities:     entities,
		bucketingMgr: bucketingMgr,
		cfg:          cfg,
		logger:       logger,
	}
}

// RateLimitService returns the rate limit service instance (singleton)
func (f *ServiceFactory) RateLimitService() *RateLimitService {
	if f.rateLimitService == nil {
		f.rateLimitService = NewRateLimitService(
			f.windowStore,
			f.cfg.Tracking.SweepInterval,
			f.logger,
		)
	}
	return f.rateLimitService
}

// TrackingService returns the tracking service instance (singleton)
func (f *ServiceFactory) TrackingService() *TrackingService {
	if f.trackingService == nil {
		f.trackingService = NewTrackingService(
			f.events,
			f.RateLimitService(),
			f.publisher,
			f.bucketingMgr,
			f.cfg.Tracking,
			f.logger,
		)
	}
	return f.trackingService
}

// AnalyticsService returns the analytics service instance (singleton)
func (f *ServiceFactory) AnalyticsService() *AnalyticsService {
	if f.analyticsService == nil {
		f.analyticsService = NewAnalyticsService(
			f.events,
			f.cfg.Tracking.DailySeriesDays,
			f.logger,
		)
	}
	return f.analyticsService
}

// OnboardingService returns the onboarding service instance (singleton)
func (f *ServiceFactory) OnboardingService() *OnboardingService {
	if f.onboardingService == nil {
		f.onboardingService = NewOnboardingService(
			f.entities,
			f.logger,
		)
	}
	return f.onboardingService
}
