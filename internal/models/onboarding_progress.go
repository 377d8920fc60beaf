package models

import "time"

// OnboardingProgress is one row per user. The derived flags are recomputed by
// the reconciler from the user's other entities; DiscordJoined and the two
// terminal flags are only ever set by explicit user action.
type OnboardingProgress struct {
	UserBucket          int       `db:"user_bucket"`
	UserID              string    `db:"user_id"`
	UsernameClaimed     bool      `db:"username_claimed"`
	BioSiteVisited      bool      `db:"bio_site_visited"`
	SocialLinkAdded     bool      `db:"social_link_added"`
	BioSitePublished    bool      `db:"bio_site_published"`
	ContentLocked       bool      `db:"content_locked"`
	LockerEmbedded      bool      `db:"locker_embedded"`
	UserInvited         bool      `db:"user_invited"`
	DiscordJoined       bool      `db:"discord_joined"`
	OnboardingCompleted bool      `db:"onboarding_completed"`
	OnboardingDismissed bool      `db:"onboarding_dismissed"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// DerivedFlags is the subset of progress flags the reconciler owns. It never
// includes DiscordJoined or the terminal flags, so writing it cannot clobber
// explicit user actions.
type DerivedFlags struct {
	UsernameClaimed  bool `json:"username_claimed"`
	BioSiteVisited   bool `json:"bio_site_visited"`
	SocialLinkAdded  bool `json:"social_link_added"`
	BioSitePublished bool `json:"bio_site_published"`
	ContentLocked    bool `json:"content_locked"`
	LockerEmbedded   bool `json:"locker_embedded"`
	UserInvited      bool `json:"user_invited"`
}

// Explicit flag names accepted by the progress flag endpoint.
const (
	FlagDiscordJoined       = "discord_joined"
	FlagOnboardingCompleted = "onboarding_completed"
	FlagOnboardingDismissed = "onboarding_dismissed"
)

// ChecklistComplete reports whether every checklist flag is set. Used as the
// gate for marking onboarding completed; it is not re-evaluated retroactively
// when entities are later deleted.
func (p *OnboardingProgress) ChecklistComplete() bool {
	return p.UsernameClaimed &&
		p.BioSiteVisited &&
		p.SocialLinkAdded &&
		p.BioSitePublished &&
		p.ContentLocked &&
		p.LockerEmbedded &&
		p.UserInvited &&
		p.DiscordJoined
}
