package models

import "time"

// Profile is the user's bio site. IsLive mirrors the publish toggle in the
// page builder.
type Profile struct {
	UserBucket int        `db:"user_bucket"`
	UserID     string     `db:"user_id"`
	Username   string     `db:"username"`
	IsLive     bool       `db:"is_live"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  *time.Time `db:"updated_at"`
}
