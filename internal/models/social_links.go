package models

import "time"

type SocialLink struct {
	UserBucket int       `db:"user_bucket"`
	UserID     string    `db:"user_id"`
	LinkID     string    `db:"link_id"`
	Platform   string    `db:"platform"`
	URL        string    `db:"url"`
	CreatedAt  time.Time `db:"created_at"`
}
