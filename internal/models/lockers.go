package models

import "time"

// Locker is a content locker the user gates behind social actions.
type Locker struct {
	UserBucket int       `db:"user_bucket"`
	UserID     string    `db:"user_id"`
	LockerID   string    `db:"locker_id"`
	Title      string    `db:"title"`
	CreatedAt  time.Time `db:"created_at"`
}
