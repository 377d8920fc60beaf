package scylla

import (
	"context"
	"time"

	"telemetry-service/internal/models"
)

// EntityRepository defines the read/write surface the onboarding reconciler
// needs over the user's entity collections. Reads return (nil, nil) or zero
// counts when nothing exists; absence is a derivation input, not an error.
type EntityRepository interface {
	// Reconciler probes
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	CountSocialLinks(ctx context.Context, userID string) (int, error)
	CountLockers(ctx context.Context, userID string) (int, error)
	ReferralCount(ctx context.Context, userID string) (int, error)

	// Onboarding progress row
	GetProgress(ctx context.Context, userID string) (*models.OnboardingProgress, error)
	CreateProgress(ctx context.Context, progress *models.OnboardingProgress) error
	UpsertDerivedFlags(ctx context.Context, userID string, flags models.DerivedFlags, updatedAt time.Time) error
	SetExplicitFlag(ctx context.Context, userID, flag string, value bool, updatedAt time.Time) error

	HealthCheck(ctx context.Context) error
}
