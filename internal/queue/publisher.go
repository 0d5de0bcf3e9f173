package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zerodha/logf"
)

// Publisher enqueues jobs onto the shared queue.
type Publisher struct {
	Redis *redis.Client
	Log   logf.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(rdb *redis.Client, log logf.Logger) *Publisher {
	return &Publisher{Redis: rdb, Log: log}
}

// Enqueue adds a job, delayed when delay > 0. When the job carries a
// UniqueKey that is already live, the duplicate is coalesced and
// silently dropped.
func (p *Publisher) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	job.EnqueuedAt = time.Now()

	if job.UniqueKey != "" {
		ok, err := p.Redis.SetNX(ctx, uniqueKey+job.UniqueKey, job.ID, uniqueTTL).Result()
		if err != nil {
			return fmt.Errorf("unique key check failed: %w", err)
		}
		if !ok {
			p.Log.Debug("Duplicate job coalesced", "type", job.Type, "unique_key", job.UniqueKey)
			return nil
		}
	}

	return p.push(ctx, job, delay)
}

// push places an already-admitted job on the ready list or delayed set.
func (p *Publisher) push(ctx context.Context, job *Job, delay time.Duration) error {
	data, err := job.encode()
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if delay > 0 {
		score := float64(time.Now().Add(delay).UnixMilli())
		if err := p.Redis.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: data}).Err(); err != nil {
			return fmt.Errorf("failed to enqueue delayed job: %w", err)
		}
	} else {
		if err := p.Redis.LPush(ctx, readyKey, data).Err(); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	p.Log.Debug("Job enqueued", "type", job.Type, "campaign_id", job.CampaignID, "delay", delay.String())
	return nil
}

// PurgeCampaign removes all pending and delayed jobs for a campaign.
// Called on pause; in-flight jobs are not touched, the batch handler's
// status re-check halts them.
func (p *Publisher) PurgeCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	removed := 0

	// Ready list
	items, err := p.Redis.LRange(ctx, readyKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to read ready queue: %w", err)
	}
	for _, raw := range items {
		job, err := decodeJob(raw)
		if err != nil || job.CampaignID != campaignID {
			continue
		}
		n, err := p.Redis.LRem(ctx, readyKey, 1, raw).Result()
		if err == nil && n > 0 {
			removed += int(n)
			p.releaseUnique(ctx, job)
		}
	}

	// Delayed set
	delayed, err := p.Redis.ZRange(ctx, delayedKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return removed, fmt.Errorf("failed to read delayed queue: %w", err)
	}
	for _, raw := range delayed {
		job, err := decodeJob(raw)
		if err != nil || job.CampaignID != campaignID {
			continue
		}
		n, err := p.Redis.ZRem(ctx, delayedKey, raw).Result()
		if err == nil && n > 0 {
			removed += int(n)
			p.releaseUnique(ctx, job)
		}
	}

	p.Log.Info("Purged campaign jobs", "campaign_id", campaignID, "removed", removed)
	return removed, nil
}

// Counts returns pending job counts per queue bucket, optionally
// filtered by campaign.
func (p *Publisher) Counts(ctx context.Context, campaignID uuid.UUID) (ready, delayed, dead int, err error) {
	countMatching := func(items []string) int {
		n := 0
		for _, raw := range items {
			job, err := decodeJob(raw)
			if err != nil {
				continue
			}
			if campaignID == uuid.Nil || job.CampaignID == campaignID {
				n++
			}
		}
		return n
	}

	items, err := p.Redis.LRange(ctx, readyKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return 0, 0, 0, err
	}
	ready = countMatching(items)

	items, err = p.Redis.ZRange(ctx, delayedKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return 0, 0, 0, err
	}
	delayed = countMatching(items)

	items, err = p.Redis.LRange(ctx, deadKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return 0, 0, 0, err
	}
	dead = countMatching(items)

	return ready, delayed, dead, nil
}

// releaseUnique frees the job's unique key so a fresh enqueue is
// admitted again.
func (p *Publisher) releaseUnique(ctx context.Context, job *Job) {
	if job.UniqueKey != "" {
		p.Redis.Del(ctx, uniqueKey+job.UniqueKey)
	}
}

// BatchUniqueKey builds the unique key for a batch-process job.
func BatchUniqueKey(campaignID uuid.UUID, batchIndex int) string {
	return "campaign:" + campaignID.String() + ":batch:" + strconv.Itoa(batchIndex)
}
