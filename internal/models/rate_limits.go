package models

import "time"

// RateLimitEntry is one fixed-window counter, stored at
// rate_limit:<scope>:<identifier>. The window restarts implicitly once
// now passes ResetAt; the sweeper removes stale entries afterwards.
type RateLimitEntry struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Expired reports whether the window has passed at the given instant.
func (e *RateLimitEntry) Expired(now time.Time) bool {
	return now.After(e.ResetAt)
}
