package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultVisibilityTimeout = 30 * time.Second

// popScript atomically pops the lowest-priority-value members from pending
// and parks them in processing with a redelivery deadline. A crash after the
// pop therefore cannot lose the message.
var popScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1], ARGV[1])
local out = {}
local i = 1
while popped[i] do
	redis.call('ZADD', KEYS[2], ARGV[2], popped[i])
	out[#out + 1] = popped[i]
	i = i + 2
end
return out
`)

// RedisBroker implements Broker on Redis sorted sets: one pending set scored
// by priority and one processing set scored by redelivery deadline per queue.
type RedisBroker struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	visibility time.Duration
}

func NewRedisBroker(client redis.UniversalClient, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{
		client:     client,
		logger:     logger.With("module", "redis_broker"),
		visibility: defaultVisibilityTimeout,
	}
}

// NewRedisClient builds a client from the REDIS_URL environment variable.
func NewRedisClient() (redis.UniversalClient, error) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		return nil, errors.New("REDIS_URL environment variable is not set or empty")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	return redis.NewClient(opts), nil
}

// WithVisibilityTimeout overrides how long a fetched message stays parked
// before it becomes reclaimable.
func (b *RedisBroker) WithVisibilityTimeout(d time.Duration) *RedisBroker {
	b.visibility = d

	return b
}

func pendingKey(queue QueueID) string {
	return "loopkit:queue:" + string(queue) + ":pending"
}

func processingKey(queue QueueID) string {
	return "loopkit:queue:" + string(queue) + ":processing"
}

func (b *RedisBroker) Add(ctx context.Context, queue QueueID, payload any, jobName string) (*Envelope, error) {
	envelope, err := newEnvelope(jobName, payload, PriorityForDepth(depthOf(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to build envelope: %w", err)
	}

	if err := b.push(ctx, queue, envelope); err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "Published message",
		"queue", queue, "job_name", jobName, "priority", envelope.Opts.Priority)

	return envelope, nil
}

func (b *RedisBroker) AddBulk(ctx context.Context, queue QueueID, payloads []any, jobName string) ([]*Envelope, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	depth := sharedDepth(payloads)
	envelopes := make([]*Envelope, 0, len(payloads))
	pipe := b.client.Pipeline()

	for _, payload := range payloads {
		envelope, err := newEnvelope(jobName, payload, PriorityForDepth(depth))
		if err != nil {
			return nil, fmt.Errorf("failed to build envelope: %w", err)
		}

		member, err := json.Marshal(envelope)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal envelope: %w", err)
		}

		pipe.ZAdd(ctx, pendingKey(queue), redis.Z{
			Score:  float64(envelope.Opts.Priority),
			Member: string(member),
		})

		envelopes = append(envelopes, envelope)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to publish batch to %s: %w", queue, err)
	}

	b.logger.DebugContext(ctx, "Published batch",
		"queue", queue, "job_name", jobName, "count", len(envelopes), "depth", depth)

	return envelopes, nil
}

func (b *RedisBroker) Requeue(ctx context.Context, queue QueueID, envelope *Envelope) error {
	return b.push(ctx, queue, envelope)
}

func (b *RedisBroker) push(ctx context.Context, queue QueueID, envelope *Envelope) error {
	member, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = b.client.ZAdd(ctx, pendingKey(queue), redis.Z{
		Score:  float64(envelope.Opts.Priority),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	return nil
}

func (b *RedisBroker) Fetch(ctx context.Context, queue QueueID, n int) ([]*Delivery, error) {
	if n < 1 {
		return nil, nil
	}

	deadline := time.Now().Add(b.visibility).UnixMilli()

	result, err := popScript.Run(ctx, b.client,
		[]string{pendingKey(queue), processingKey(queue)},
		strconv.Itoa(n), strconv.FormatInt(deadline, 10),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to fetch from %s: %w", queue, err)
	}

	deliveries := make([]*Delivery, 0, len(result))

	for _, member := range result {
		var envelope Envelope

		if err := json.Unmarshal([]byte(member), &envelope); err != nil {
			// Unparseable entries would wedge the processing set; drop them.
			b.logger.ErrorContext(ctx, "Dropping malformed queue entry", "queue", queue, "error", err)
			b.client.ZRem(ctx, processingKey(queue), member)

			continue
		}

		deliveries = append(deliveries, &Delivery{
			Queue:    queue,
			Envelope: &envelope,
			receipt:  member,
		})
	}

	return deliveries, nil
}

func (b *RedisBroker) Ack(ctx context.Context, delivery *Delivery) error {
	err := b.client.ZRem(ctx, processingKey(delivery.Queue), delivery.receipt).Err()
	if err != nil {
		return fmt.Errorf("failed to ack on %s: %w", delivery.Queue, err)
	}

	return nil
}

func (b *RedisBroker) Reclaim(ctx context.Context, queue QueueID) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	expired, err := b.client.ZRangeByScore(ctx, processingKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan processing set for %s: %w", queue, err)
	}

	reclaimed := 0

	for _, member := range expired {
		var envelope Envelope

		if err := json.Unmarshal([]byte(member), &envelope); err != nil {
			b.client.ZRem(ctx, processingKey(queue), member)

			continue
		}

		pipe := b.client.TxPipeline()
		pipe.ZRem(ctx, processingKey(queue), member)
		pipe.ZAdd(ctx, pendingKey(queue), redis.Z{
			Score:  float64(envelope.Opts.Priority),
			Member: member,
		})

		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, fmt.Errorf("failed to reclaim on %s: %w", queue, err)
		}

		reclaimed++
	}

	if reclaimed > 0 {
		b.logger.InfoContext(ctx, "Reclaimed expired deliveries", "queue", queue, "count", reclaimed)
	}

	return reclaimed, nil
}
