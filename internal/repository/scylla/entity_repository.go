package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"telemetry-service/internal/bucketing"
	"telemetry-service/internal/models"
	"telemetry-service/internal/util"
)

type entityRepository struct {
	client       *ScyllaClient
	bucketingMgr *bucketing.BucketingManager
}

// NewEntityRepository creates the Scylla-backed entity repository.
func NewEntityRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) EntityRepository {
	return &entityRepository{
		client:       client,
		bucketingMgr: bucketingMgr,
	}
}

func (r *entityRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	bucket := r.bucketingMgr.GetUserBucket(userID)
	profile := &models.Profile{}

	query := r.client.Prepared.GetProfile.Bind(bucket, userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&profile.UserBucket, &profile.UserID, &profile.Username,
		&profile.IsLive, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to get profile",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return profile, nil
}

func (r *entityRepository) CountSocialLinks(ctx context.Context, userID string) (int, error) {
	return r.countForUser(ctx, r.client.Prepared.CountSocialLinks, userID, "social links")
}

func (r *entityRepository) CountLockers(ctx context.Context, userID string) (int, error) {
	return r.countForUser(ctx, r.client.Prepared.CountLockers, userID, "lockers")
}

func (r *entityRepository) countForUser(ctx context.Context, stmt *gocql.Query, userID, what string) (int, error) {
	bucket := r.bucketingMgr.GetUserBucket(userID)

	var count int
	query := stmt.Bind(bucket, userID).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &count); err != nil {
		if err == gocql.ErrNotFound {
			return 0, nil
		}
		util.Error("Failed to count "+what,
			zap.String("user_id", userID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count %s: %w", what, err)
	}

	return count, nil
}

func (r *entityRepository) ReferralCount(ctx context.Context, userID string) (int, error) {
	bucket := r.bucketingMgr.GetUserBucket(userID)

	var count int
	query := r.client.Prepared.GetReferralCount.Bind(bucket, userID).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &count); err != nil {
		if err == gocql.ErrNotFound {
			// No referral row yet means nobody was invited.
			return 0, nil
		}
		util.Error("Failed to get referral count",
			zap.String("user_id", userID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to get referral count: %w", err)
	}

	return count, nil
}

func (r *entityRepository) GetProgress(ctx context.Context, userID string) (*models.OnboardingProgress, error) {
	bucket := r.bucketingMgr.GetUserBucket(userID)
	progress := &models.OnboardingProgress{}

	query := r.client.Prepared.GetProgress.Bind(bucket, userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&progress.UserBucket, &progress.UserID, &progress.UsernameClaimed,
		&progress.BioSiteVisited, &progress.SocialLinkAdded, &progress.BioSitePublished,
		&progress.ContentLocked, &progress.LockerEmbedded, &progress.UserInvited,
		&progress.DiscordJoined, &progress.OnboardingCompleted, &progress.OnboardingDismissed,
		&progress.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to get onboarding progress",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get onboarding progress: %w", err)
	}

	return progress, nil
}

func (r *entityRepository) CreateProgress(ctx context.Context, progress *models.OnboardingProgress) error {
	progress.UserBucket = r.bucketingMgr.GetUserBucket(progress.UserID)

	query := r.client.Prepared.CreateProgress.Bind(
		progress.UserBucket, progress.UserID, progress.UsernameClaimed,
		progress.BioSiteVisited, progress.SocialLinkAdded, progress.BioSitePublished,
		progress.ContentLocked, progress.LockerEmbedded, progress.UserInvited,
		progress.DiscordJoined, progress.OnboardingCompleted, progress.OnboardingDismissed,
		progress.UpdatedAt,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create onboarding progress",
			zap.String("user_id", progress.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create onboarding progress: %w", err)
	}

	util.Debug("Onboarding progress row created",
		zap.String("user_id", progress.UserID))

	return nil
}

func (r *entityRepository) UpsertDerivedFlags(ctx context.Context, userID string, flags models.DerivedFlags, updatedAt time.Time) error {
	bucket := r.bucketingMgr.GetUserBucket(userID)

	query := r.client.Prepared.UpsertDerivedFlags.Bind(
		flags.UsernameClaimed, flags.BioSiteVisited, flags.SocialLinkAdded,
		flags.BioSitePublished, flags.ContentLocked, flags.LockerEmbedded,
		flags.UserInvited, updatedAt,
		bucket, userID,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to upsert derived flags",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert derived flags: %w", err)
	}

	return nil
}

func (r *entityRepository) SetExplicitFlag(ctx context.Context, userID, flag string, value bool, updatedAt time.Time) error {
	bucket := r.bucketingMgr.GetUserBucket(userID)

	// One prepared statement per settable column; flag names never reach CQL text.
	var stmt *gocql.Query
	switch flag {
	case models.FlagDiscordJoined:
		stmt = r.client.Prepared.SetDiscordJoined
	case models.FlagOnboardingCompleted:
		stmt = r.client.Prepared.SetCompleted
	case models.FlagOnboardingDismissed:
		stmt = r.client.Prepared.SetDismissed
	default:
		return fmt.Errorf("unknown explicit flag: %s", flag)
	}

	query := stmt.Bind(value, updatedAt, bucket, userID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to set explicit flag",
			zap.String("user_id", userID),
			zap.String("flag", flag),
			zap.Error(err))
		return fmt.Errorf("failed to set explicit flag: %w", err)
	}

	return nil
}

func (r *entityRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
