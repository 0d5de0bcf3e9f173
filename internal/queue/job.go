// Package queue implements the Redis-backed campaign job queue: a
// ready list plus a delayed sorted set, unique-keyed jobs that coalesce
// duplicate enqueues, bounded retries with exponential backoff, and a
// dead-letter list for jobs that exhaust their attempts.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job types
const (
	JobCampaignStart  = "campaign-start"
	JobBatchProcess   = "batch-process"
	JobCampaignCheck  = "campaign-check"
	JobScheduledStart = "scheduled-start"
)

const (
	readyKey   = "queue:jobs:ready"
	delayedKey = "queue:jobs:delayed"
	deadKey    = "queue:jobs:dead"
	uniqueKey  = "queue:jobs:unique:"

	// DefaultMaxAttempts before a job is dead-lettered.
	DefaultMaxAttempts = 3
	// retryBase is the exponential backoff base between attempts.
	retryBase = 5 * time.Second
	// retryCap bounds the computed backoff.
	retryCap = 5 * time.Minute
	// deadRetention is how long dead-lettered jobs are kept.
	deadRetention = 7 * 24 * time.Hour
	// uniqueTTL bounds how long a unique key can suppress duplicates.
	uniqueTTL = 24 * time.Hour
)

// Job is one unit of queued work.
type Job struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// UniqueKey coalesces duplicate enqueues while the job is live.
	UniqueKey string `json:"unique_key,omitempty"`

	CampaignID  uuid.UUID `json:"campaign_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	BatchID     uuid.UUID `json:"batch_id,omitempty"`
	BatchIndex  int       `json:"batch_index,omitempty"`

	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`

	// LastError is carried into the dead-letter record.
	LastError string `json:"last_error,omitempty"`
}

func (j *Job) encode() ([]byte, error) {
	return json.Marshal(j)
}

func decodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Outcome kinds
const (
	outcomeDone = iota
	outcomeRetryAfter
	outcomeFail
)

// Outcome is the result of handling a job, acted on by the consumer.
type Outcome struct {
	kind   int
	delay  time.Duration
	reason string
}

// Done marks the job completed.
func Done() Outcome {
	return Outcome{kind: outcomeDone}
}

// RetryAfter reschedules the job after the given delay without
// consuming an attempt. Used for rate-limit backoff.
func RetryAfter(d time.Duration) Outcome {
	return Outcome{kind: outcomeRetryAfter, delay: d}
}

// Fail records a failed attempt; the consumer retries with backoff or
// dead-letters once attempts are exhausted.
func Fail(reason string) Outcome {
	return Outcome{kind: outcomeFail, reason: reason}
}

// Handler processes one job and reports the outcome.
type Handler interface {
	Handle(ctx context.Context, job *Job) Outcome
}
