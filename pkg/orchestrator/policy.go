// Package orchestrator consumes queues, dispatches jobs to registered
// handlers, and applies the per-queue success/retry/dead-letter policy.
package orchestrator

import (
	"time"

	"github.com/loopkit/loopkit/pkg/queue"
)

// RetryPolicy describes what happens when a handler fails.
type RetryPolicy struct {
	// Retry false means a failure is terminal and the job is dropped after
	// the ack.
	Retry bool

	// MaxAttempts bounds total failures before dead-lettering; 0 means
	// retry indefinitely.
	MaxAttempts int

	// Backoff is waited before the requeue publish.
	Backoff time.Duration

	// DeadLetter routes exhausted jobs to the dead-letter queue instead of
	// dropping them.
	DeadLetter bool
}

// PolicyFor classifies a queue:
//   - the event-ingestion queue retries indefinitely on a fixed one-second
//     backoff, events must never be dropped;
//   - the message-send queue never retries, duplicate sends are worse than a
//     dropped one;
//   - everything else gets three attempts and then the dead-letter queue.
func PolicyFor(queueID queue.QueueID) RetryPolicy {
	switch queueID {
	case queue.QueueEvents:
		return RetryPolicy{Retry: true, MaxAttempts: 0, Backoff: time.Second}
	case queue.QueueMessageSend:
		return RetryPolicy{Retry: false}
	default:
		return RetryPolicy{Retry: true, MaxAttempts: 3, DeadLetter: true}
	}
}
