package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telemetry-service/internal/client"
	"telemetry-service/internal/models"
	"telemetry-service/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// RateLimitStore keeps fixed-window entries in Redis under
// rate_limit:<scope>:<identifier>. Entries carry their own reset timestamp and
// no Redis TTL; expiry is decided by the entry and enforced by SweepExpired.
//
// Read-modify-write here is intentionally not transactional. Two concurrent
// requests can both read count=N and both write N+1, letting a small burst
// past the limit. The limit is a soft one; closing the race would need an
// atomic increment-and-get carrying the window boundary.
type RateLimitStore struct {
	client *client.RedisClient
}

func NewRateLimitStore(client *client.RedisClient) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// GetEntry returns the stored window entry, or nil when the key is absent.
func (s *RateLimitStore) GetEntry(ctx context.Context, key string) (*models.RateLimitEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, rateLimitPrefix+key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rate limit entry: %w", err)
	}

	var entry models.RateLimitEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		util.Error("Invalid rate limit entry format",
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("invalid rate limit entry format: %w", err)
	}

	return &entry, nil
}

// PutEntry stores the window entry, overwriting any previous value.
func (s *RateLimitStore) PutEntry(ctx context.Context, key string, entry *models.RateLimitEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode rate limit entry: %w", err)
	}

	if err := s.client.Set(ctx, rateLimitPrefix+key, raw, 0); err != nil {
		return fmt.Errorf("failed to write rate limit entry: %w", err)
	}

	return nil
}

// SweepExpired deletes every entry whose window has passed. Each candidate is
// re-read and tested with the same now > resetAt rule the limiter uses, so an
// entry being actively incremented inside its window is never removed.
func (s *RateLimitStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	keys, err := s.client.ScanKeys(ctx, rateLimitPrefix+"*", 100)
	if err != nil {
		return 0, fmt.Errorf("failed to scan rate limit keys: %w", err)
	}

	removed := 0
	for _, fullKey := range keys {
		raw, err := s.client.Get(ctx, fullKey)
		if err != nil {
			if errors.Is(err, client.ErrKeyNotFound) {
				continue
			}
			util.Warn("Failed to read rate limit entry during sweep",
				zap.String("key", fullKey),
				zap.Error(err))
			continue
		}

		var entry models.RateLimitEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// Unparseable entries are dead weight either way.
			_ = s.client.Del(ctx, fullKey)
			removed++
			continue
		}

		if entry.Expired(now) {
			if err := s.client.Del(ctx, fullKey); err != nil {
				util.Warn("Failed to delete expired rate limit entry",
					zap.String("key", fullKey),
					zap.Error(err))
				continue
			}
			removed++
		}
	}

	return removed, nil
}
