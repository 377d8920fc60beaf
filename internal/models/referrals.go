package models

import "time"

// Referral holds the per-user affiliate counter incremented elsewhere when an
// invited user signs up.
type Referral struct {
	UserBucket    int       `db:"user_bucket"`
	UserID        string    `db:"user_id"`
	ReferredCount int       `db:"referred_count"`
	UpdatedAt     time.Time `db:"updated_at"`
}
