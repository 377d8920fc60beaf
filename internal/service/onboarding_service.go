package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"telemetry-service/internal/models"
	"telemetry-service/internal/repository/scylla"
	"telemetry-service/internal/util"
)

var (
	ErrUnknownFlag          = errors.New("unknown onboarding flag")
	ErrChecklistIncomplete  = errors.New("onboarding checklist is not complete")
	ErrReconciliationFailed = errors.New("failed to reconcile onboarding progress")
)

// EntitySnapshot is the probed state of a user's entities at one instant.
type EntitySnapshot struct {
	Profile     *models.Profile
	SocialLinks int
	Lockers     int
	Referrals   int
}

// DeriveFlags maps an entity snapshot to the canonical derived flags. Pure
// function: the whole derivation is testable without a store.
//
// Two flags are proxies for signals the system does not capture:
// bio_site_visited mirrors profile existence (no editor-visit event exists),
// and locker_embedded is content_locked && bio_site_published (no embed
// signal exists).
func DeriveFlags(snap EntitySnapshot) models.DerivedFlags {
	hasProfile := snap.Profile != nil
	isLive := hasProfile && snap.Profile.IsLive
	hasLocker := snap.Lockers > 0

	return models.DerivedFlags{
		UsernameClaimed:  hasProfile,
		BioSiteVisited:   hasProfile,
		SocialLinkAdded:  snap.SocialLinks > 0,
		BioSitePublished: isLive,
		ContentLocked:    hasLocker,
		LockerEmbedded:   hasLocker && isLive,
		UserInvited:      snap.Referrals > 0,
	}
}

// OnboardingService reconciles a user's onboarding progress against the
// actual state of their entities.
type OnboardingService struct {
	entities scylla.EntityRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewOnboardingService(entities scylla.EntityRepository, logger *zap.Logger) *OnboardingService {
	return &OnboardingService{
		entities: entities,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile probes the user's entities, derives the flags and upserts them.
// All probes must succeed before anything is written: a failed probe aborts
// the whole reconcile and leaves the previous row untouched, never a row with
// some flags derived and others stale-zeroed.
//
// The upsert writes only the derived columns, so discord_joined and the two
// terminal flags survive reconciliation. Running it twice with no state
// change in between produces an identical row.
func (s *OnboardingService) Reconcile(ctx context.Context, userID string) (*models.OnboardingProgress, error) {
	startTime := time.Now()

	snap, err := s.probeEntities(ctx, userID)
	if err != nil {
		s.logger.Error("Onboarding probe failed, aborting reconcile",
			util.String("user_id", userID),
			util.ErrorField(err))
		return nil, fmt.Errorf("%w: %v", ErrReconciliationFailed, err)
	}

	flags := DeriveFlags(*snap)
	now := s.now().UTC()

	// The write runs detached so a dashboard disconnect cannot leave a
	// half-applied upsert.
	writeCtx := context.WithoutCancel(ctx)
	if err := s.entities.UpsertDerivedFlags(writeCtx, userID, flags, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconciliationFailed, err)
	}

	progress, err := s.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Onboarding progress reconciled",
		util.String("user_id", userID),
		util.Bool("username_claimed", flags.UsernameClaimed),
		util.Bool("bio_site_published", flags.BioSitePublished),
		util.Bool("content_locked", flags.ContentLocked),
		util.Duration("duration", time.Since(startTime)),
	)

	return progress, nil
}

// probeEntities reads the user's collections concurrently. Any failure
// cancels the remaining probes and fails the snapshot as a whole.
func (s *OnboardingService) probeEntities(ctx context.Context, userID string) (*EntitySnapshot, error) {
	snap := &EntitySnapshot{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		profile, err := s.entities.GetProfile(gctx, userID)
		if err != nil {
			return fmt.Errorf("profile probe: %w", err)
		}
		snap.Profile = profile
		return nil
	})

	g.Go(func() error {
		count, err := s.entities.CountSocialLinks(gctx, userID)
		if err != nil {
			return fmt.Errorf("social link probe: %w", err)
		}
		snap.SocialLinks = count
		return nil
	})

	g.Go(func() error {
		count, err := s.entities.CountLockers(gctx, userID)
		if err != nil {
			return fmt.Errorf("locker probe: %w", err)
		}
		snap.Lockers = count
		return nil
	})

	g.Go(func() error {
		count, err := s.entities.ReferralCount(gctx, userID)
		if err != nil {
			return fmt.Errorf("referral probe: %w", err)
		}
		snap.Referrals = count
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return snap, nil
}

// GetProgress returns the user's progress row, creating an all-false row on
// first access.
func (s *OnboardingService) GetProgress(ctx context.Context, userID string) (*models.OnboardingProgress, error) {
	progress, err := s.entities.GetProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get onboarding progress: %w", err)
	}
	if progress != nil {
		return progress, nil
	}

	progress = &models.OnboardingProgress{
		UserID:    userID,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.entities.CreateProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("failed to create onboarding progress: %w", err)
	}

	return progress, nil
}

// SetFlag sets one of the explicit flags: discord_joined (which cannot be
// derived) and the two terminal flags. Marking onboarding completed requires
// every checklist flag to be true at that moment; completion is not revoked
// later if entities are deleted.
func (s *OnboardingService) SetFlag(ctx context.Context, userID, flag string, value bool) (*models.OnboardingProgress, error) {
	switch flag {
	case models.FlagDiscordJoined, models.FlagOnboardingCompleted, models.FlagOnboardingDismissed:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlag, flag)
	}

	progress, err := s.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}

	if flag == models.FlagOnboardingCompleted && value && !progress.ChecklistComplete() {
		return nil, ErrChecklistIncomplete
	}

	now := s.now().UTC()
	if err := s.entities.SetExplicitFlag(ctx, userID, flag, value, now); err != nil {
		return nil, err
	}

	switch flag {
	case models.FlagDiscordJoined:
		progress.DiscordJoined = value
	case models.FlagOnboardingCompleted:
		progress.OnboardingCompleted = value
	case models.FlagOnboardingDismissed:
		progress.OnboardingDismissed = value
	}
	progress.UpdatedAt = now

	s.logger.Info("Onboarding flag set",
		util.String("user_id", userID),
		util.String("flag", flag),
		util.Bool("value", value),
	)

	return progress, nil
}
