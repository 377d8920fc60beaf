package models

import (
	"time"

	"github.com/google/uuid"
)

// Subject types a view event can be attributed to. Exactly one subject
// reference is set per event.
const (
	SubjectProfile = "profile"
	SubjectLocker  = "locker"
)

// ValidSubjectType reports whether t names a known subject collection.
func ValidSubjectType(t string) bool {
	return t == SubjectProfile || t == SubjectLocker
}

type ViewEvent struct {
	EventBucket int       `db:"event_bucket"`
	EventID     uuid.UUID `db:"event_id"`
	SubjectType string    `db:"subject_type"`
	SubjectID   string    `db:"subject_id"`
	ClientIP    string    `db:"client_ip"`
	UserAgent   string    `db:"user_agent"`
	Referrer    *string   `db:"referrer"`
	EventDate   string    `db:"event_date"` // viewed_at truncated to UTC calendar date
	ViewedAt    time.Time `db:"viewed_at"`
}
