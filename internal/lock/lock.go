// Package lock provides the per-campaign distributed execution lease.
// At most one orchestrator may hold the lock for a campaign at a time.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/waveline/waveline/internal/waerr"
	"github.com/zerodha/logf"
)

const (
	keyPrefix = "campaign:lock:execution:"

	// DefaultTTL is the hard upper bound on a lease; holders extend
	// opportunistically well before it elapses.
	DefaultTTL = 24 * time.Hour
)

// Owner is the JSON value stored under a lock key. Hostname and PID are
// forensic only and never used for validation.
type Owner struct {
	OwnerID    string    `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	Hostname   string    `json:"hostname"`
	PID        int       `json:"pid"`
}

// Info describes a held lock.
type Info struct {
	CampaignID   uuid.UUID `json:"campaign_id"`
	Owner        Owner     `json:"owner"`
	TTLRemaining int64     `json:"ttl_remaining_secs"`
}

// Service implements the lock over Redis SETNX+EX.
type Service struct {
	Redis *redis.Client
	Log   logf.Logger
}

// New creates a lock service.
func New(rdb *redis.Client, log logf.Logger) *Service {
	return &Service{Redis: rdb, Log: log}
}

func key(campaignID uuid.UUID) string {
	return keyPrefix + campaignID.String()
}

// Acquire atomically takes the campaign lock. On conflict it returns a
// CAMPAIGN_ALREADY_RUNNING error carrying the current owner. Any store
// error is LOCK_ERROR and is never interpreted as success.
func (s *Service) Acquire(ctx context.Context, campaignID uuid.UUID, ownerID string, ttl time.Duration) (*Owner, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	hostname, _ := os.Hostname()
	owner := Owner{
		OwnerID:    ownerID,
		AcquiredAt: time.Now(),
		Hostname:   hostname,
		PID:        os.Getpid(),
	}

	value, err := json.Marshal(owner)
	if err != nil {
		return nil, waerr.Wrap(waerr.KindLockError, "failed to encode lock owner", err)
	}

	ok, err := s.Redis.SetNX(ctx, key(campaignID), value, ttl).Result()
	if err != nil {
		return nil, waerr.Wrap(waerr.KindLockError, "lock store error", err)
	}
	if !ok {
		existing, _ := s.ownerOf(ctx, campaignID)
		if existing != nil {
			return existing, waerr.Newf(waerr.KindCampaignAlreadyRunning,
				"lock held by %s since %s", existing.OwnerID, existing.AcquiredAt.Format(time.RFC3339))
		}
		return nil, waerr.New(waerr.KindCampaignAlreadyRunning, "lock already held")
	}

	s.Log.Debug("Lock acquired", "campaign_id", campaignID, "owner", ownerID)
	return &owner, nil
}

// Release removes the lock after verifying ownership. force skips the
// owner check (admin override).
func (s *Service) Release(ctx context.Context, campaignID uuid.UUID, ownerID string, force bool) error {
	if !force {
		existing, err := s.ownerOf(ctx, campaignID)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil // already gone
		}
		if existing.OwnerID != ownerID {
			return waerr.Newf(waerr.KindLockError, "lock owned by %s, not %s", existing.OwnerID, ownerID)
		}
	}

	if err := s.Redis.Del(ctx, key(campaignID)).Err(); err != nil {
		return waerr.Wrap(waerr.KindLockError, "failed to release lock", err)
	}

	s.Log.Debug("Lock released", "campaign_id", campaignID, "owner", ownerID, "force", force)
	return nil
}

// Check returns the current owner and remaining TTL, or nil when unlocked.
func (s *Service) Check(ctx context.Context, campaignID uuid.UUID) (*Info, error) {
	owner, err := s.ownerOf(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, nil
	}

	ttl, err := s.Redis.TTL(ctx, key(campaignID)).Result()
	if err != nil {
		return nil, waerr.Wrap(waerr.KindLockError, "failed to read lock ttl", err)
	}

	return &Info{
		CampaignID:   campaignID,
		Owner:        *owner,
		TTLRemaining: int64(ttl.Seconds()),
	}, nil
}

// Extend refreshes the TTL for the holder. The presented ownerID must
// match or extension fails.
func (s *Service) Extend(ctx context.Context, campaignID uuid.UUID, ownerID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	existing, err := s.ownerOf(ctx, campaignID)
	if err != nil {
		return err
	}
	if existing == nil {
		return waerr.New(waerr.KindLockError, "lock not held")
	}
	if existing.OwnerID != ownerID {
		return waerr.Newf(waerr.KindLockError, "lock owned by %s, not %s", existing.OwnerID, ownerID)
	}

	if err := s.Redis.Expire(ctx, key(campaignID), ttl).Err(); err != nil {
		return waerr.Wrap(waerr.KindLockError, "failed to extend lock", err)
	}
	return nil
}

// ListActive returns all currently held campaign locks.
func (s *Service) ListActive(ctx context.Context) ([]Info, error) {
	var locks []Info
	iter := s.Redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		idStr := k[len(keyPrefix):]
		campaignID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		info, err := s.Check(ctx, campaignID)
		if err != nil || info == nil {
			continue
		}
		locks = append(locks, *info)
	}
	if err := iter.Err(); err != nil {
		return nil, waerr.Wrap(waerr.KindLockError, "lock scan failed", err)
	}
	return locks, nil
}

func (s *Service) ownerOf(ctx context.Context, campaignID uuid.UUID) (*Owner, error) {
	raw, err := s.Redis.Get(ctx, key(campaignID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, waerr.Wrap(waerr.KindLockError, "lock store error", err)
	}

	var owner Owner
	if err := json.Unmarshal([]byte(raw), &owner); err != nil {
		return nil, waerr.Wrap(waerr.KindLockError, fmt.Sprintf("corrupt lock value for %s", campaignID), err)
	}
	return &owner, nil
}
