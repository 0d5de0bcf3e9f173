package queue

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zerodha/logf"
)

// Consumer pulls jobs and runs them through a Handler with bounded
// concurrency and an outer jobs-per-second guardrail.
type Consumer struct {
	Redis       *redis.Client
	Log         logf.Logger
	Publisher   *Publisher
	Concurrency int
	MaxPerSec   int
}

// NewConsumer creates a Consumer.
func NewConsumer(rdb *redis.Client, pub *Publisher, log logf.Logger, concurrency, maxPerSec int) *Consumer {
	if concurrency <= 0 {
		concurrency = 5
	}
	if maxPerSec <= 0 {
		maxPerSec = 10
	}
	return &Consumer{
		Redis:       rdb,
		Log:         log,
		Publisher:   pub,
		Concurrency: concurrency,
		MaxPerSec:   maxPerSec,
	}
}

// Run consumes jobs until the context is cancelled. It starts the
// delayed-job mover and the worker pool, and blocks until both stop.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.moveDelayed(ctx)
	}()

	// Dispatch token bucket: MaxPerSec tokens refilled each second.
	tokens := make(chan struct{}, c.MaxPerSec)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second / time.Duration(c.MaxPerSec))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case tokens <- struct{}{}:
				default:
				}
			}
		}
	}()

	for i := 0; i < c.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.workerLoop(ctx, handler, tokens)
		}()
	}

	wg.Wait()
	c.Log.Info("Queue consumer stopped")
	return ctx.Err()
}

// workerLoop pops ready jobs and dispatches them under the token bucket.
func (c *Consumer) workerLoop(ctx context.Context, handler Handler, tokens <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tokens:
		}

		raw, err := c.Redis.BRPop(ctx, time.Second, readyKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.Log.Error("Queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(raw) < 2 {
			continue
		}

		job, err := decodeJob(raw[1])
		if err != nil {
			c.Log.Error("Dropping undecodable job", "error", err)
			continue
		}

		c.dispatch(ctx, handler, job)
	}
}

// dispatch runs one job and acts on its outcome.
func (c *Consumer) dispatch(ctx context.Context, handler Handler, job *Job) {
	outcome := handler.Handle(ctx, job)

	switch outcome.kind {
	case outcomeDone:
		c.Publisher.releaseUnique(ctx, job)

	case outcomeRetryAfter:
		// Deliberate reschedule; does not consume an attempt.
		if err := c.Publisher.push(ctx, job, outcome.delay); err != nil {
			c.Log.Error("Failed to reschedule job", "error", err, "job_id", job.ID)
		}
		c.Log.Debug("Job rescheduled", "type", job.Type, "campaign_id", job.CampaignID, "delay", outcome.delay.String())

	case outcomeFail:
		job.Attempts++
		job.LastError = outcome.reason
		if job.Attempts >= job.MaxAttempts {
			c.deadLetter(ctx, job)
			return
		}
		delay := retryBackoff(job.Attempts)
		if err := c.Publisher.push(ctx, job, delay); err != nil {
			c.Log.Error("Failed to requeue job", "error", err, "job_id", job.ID)
		}
		c.Log.Warn("Job failed, retrying", "type", job.Type, "campaign_id", job.CampaignID,
			"attempt", job.Attempts, "delay", delay.String(), "reason", outcome.reason)
	}
}

// deadLetter moves an exhausted job to the dead-letter list.
func (c *Consumer) deadLetter(ctx context.Context, job *Job) {
	c.Publisher.releaseUnique(ctx, job)

	data, err := job.encode()
	if err != nil {
		return
	}
	if err := c.Redis.LPush(ctx, deadKey, data).Err(); err != nil {
		c.Log.Error("Failed to dead-letter job", "error", err, "job_id", job.ID)
		return
	}
	c.Redis.Expire(ctx, deadKey, deadRetention)
	c.Log.Error("Job dead-lettered", "type", job.Type, "campaign_id", job.CampaignID, "reason", job.LastError)
}

// moveDelayed promotes due delayed jobs onto the ready list.
func (c *Consumer) moveDelayed(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := float64(time.Now().UnixMilli())
		due, err := c.Redis.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
			Min: "-inf", Max: formatScore(now), Count: 100,
		}).Result()
		if err != nil || len(due) == 0 {
			continue
		}

		for _, raw := range due {
			n, err := c.Redis.ZRem(ctx, delayedKey, raw).Result()
			if err != nil || n == 0 {
				continue // another instance claimed it
			}
			if err := c.Redis.LPush(ctx, readyKey, raw).Err(); err != nil {
				c.Log.Error("Failed to promote delayed job", "error", err)
			}
		}
	}
}

// retryBackoff computes exponential backoff with jitter, capped.
func retryBackoff(attempt int) time.Duration {
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryCap {
			d = retryCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
