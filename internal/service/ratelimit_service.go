package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"telemetry-service/internal/models"
	"telemetry-service/internal/util"
)

// WindowStore is the key-value surface the limiter needs. GetEntry returns
// (nil, nil) when no entry exists for the key.
type WindowStore interface {
	GetEntry(ctx context.Context, key string) (*models.RateLimitEntry, error)
	PutEntry(ctx context.Context, key string, entry *models.RateLimitEntry) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// RateLimitPolicy is the per-scope fixed-window budget.
type RateLimitPolicy struct {
	MaxRequests int
	Window      time.Duration
}

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimitService implements a store-backed fixed-window limiter.
//
// The window is fixed, not sliding: the counter resets entirely once the
// entry's ResetAt passes. The limit is soft; concurrent checks on the same
// key can race the read-modify-write and admit a small burst past the budget.
//
// Failure policy is fail open: if the store is unreachable the request is
// allowed. Availability of the product surface outweighs strict throttling.
type RateLimitService struct {
	store         WindowStore
	sweepInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewRateLimitService(store WindowStore, sweepInterval time.Duration, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		store:         store,
		sweepInterval: sweepInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Check records one request against scope:identifier and decides whether it
// is within the window budget.
func (s *RateLimitService) Check(ctx context.Context, scope, identifier string, policy RateLimitPolicy) Decision {
	key := scope + ":" + identifier
	now := s.now().UTC()

	entry, err := s.store.GetEntry(ctx, key)
	if err != nil {
		s.logger.Warn("Rate limit store read failed, failing open",
			util.String("key", key),
			util.ErrorField(err))
		return s.failOpen(policy, now)
	}

	// Fresh window: no entry, or the previous window has passed.
	if entry == nil || entry.Expired(now) {
		fresh := &models.RateLimitEntry{
			Count:   1,
			ResetAt: now.Add(policy.Window),
		}
		if err := s.store.PutEntry(ctx, key, fresh); err != nil {
			s.logger.Warn("Rate limit store write failed, failing open",
				util.String("key", key),
				util.ErrorField(err))
			return s.failOpen(policy, now)
		}
		return Decision{
			Allowed:   true,
			Remaining: policy.MaxRequests - 1,
			ResetAt:   fresh.ResetAt,
		}
	}

	if entry.Count < policy.MaxRequests {
		entry.Count++
		if err := s.store.PutEntry(ctx, key, entry); err != nil {
			s.logger.Warn("Rate limit store write failed, failing open",
				util.String("key", key),
				util.ErrorField(err))
			return s.failOpen(policy, now)
		}
		return Decision{
			Allowed:   true,
			Remaining: policy.MaxRequests - entry.Count,
			ResetAt:   entry.ResetAt,
		}
	}

	return Decision{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   entry.ResetAt,
	}
}

func (s *RateLimitService) failOpen(policy RateLimitPolicy, now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - 1,
		ResetAt:   now.Add(policy.Window),
	}
}

// StartSweeper runs the background cleanup loop until ctx is cancelled.
// It deletes entries whose window has passed, on a fixed interval independent
// of request traffic.
func (s *RateLimitService) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		s.logger.Info("Rate limit sweeper started",
			util.Duration("interval", s.sweepInterval))

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Rate limit sweeper stopped")
				return
			case <-ticker.C:
				removed, err := s.store.SweepExpired(ctx, s.now().UTC())
				if err != nil {
					s.logger.Warn("Rate limit sweep failed", util.ErrorField(err))
					continue
				}
				if removed > 0 {
					s.logger.Debug("Rate limit sweep completed",
						util.Int("removed", removed))
				}
			}
		}
	}()
}
