package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loopkit/loopkit/pkg/otelhelper"
	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPrefetch        = 10
	defaultPollInterval    = 250 * time.Millisecond
	defaultReclaimInterval = 10 * time.Second
)

// Orchestrator binds one queue to one handler. It consumes with a bounded
// prefetch, acks exactly once per delivery, and applies the queue's retry
// policy on failure.
type Orchestrator struct {
	queueID queue.QueueID
	broker  queue.Broker
	handler protocol.Handler
	policy  RetryPolicy
	logger  *slog.Logger
	tracer  trace.Tracer

	prefetch        int
	pollInterval    time.Duration
	reclaimInterval time.Duration

	slots chan struct{}
	wg    sync.WaitGroup

	// test hook; production uses time.Sleep for the retry backoff
	sleep func(context.Context, time.Duration)
}

func New(queueID queue.QueueID, broker queue.Broker, handler protocol.Handler, logger *slog.Logger, tracer trace.Tracer) *Orchestrator {
	return &Orchestrator{
		queueID:         queueID,
		broker:          broker,
		handler:         handler,
		policy:          PolicyFor(queueID),
		logger:          logger.With("module", "orchestrator", "queue", string(queueID)),
		tracer:          tracer,
		prefetch:        defaultPrefetch,
		pollInterval:    defaultPollInterval,
		reclaimInterval: defaultReclaimInterval,
		sleep:           sleepCtx,
	}
}

// WithPrefetch bounds how many messages this process handles concurrently.
func (o *Orchestrator) WithPrefetch(n int) *Orchestrator {
	if n > 0 {
		o.prefetch = n
	}

	return o
}

func (o *Orchestrator) WithPollInterval(d time.Duration) *Orchestrator {
	o.pollInterval = d

	return o
}

// Run consumes until the context is cancelled, then waits for in-flight
// handlers to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "Starting orchestrator", "prefetch", o.prefetch)

	o.slots = make(chan struct{}, o.prefetch)

	o.wg.Add(1)
	go o.reclaimLoop(ctx)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			o.logger.Info("Orchestrator stopped")

			return nil
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

func (o *Orchestrator) poll(ctx context.Context) {
	free := o.prefetch - len(o.slots)
	if free < 1 {
		return
	}

	deliveries, err := o.broker.Fetch(ctx, o.queueID, free)
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to fetch deliveries", "error", err)

		return
	}

	for _, delivery := range deliveries {
		o.slots <- struct{}{}
		o.wg.Add(1)

		go func(delivery *queue.Delivery) {
			defer o.wg.Done()
			defer func() { <-o.slots }()

			o.process(ctx, delivery)
		}(delivery)
	}
}

func (o *Orchestrator) reclaimLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.broker.Reclaim(ctx, o.queueID); err != nil {
				o.logger.ErrorContext(ctx, "Failed to reclaim deliveries", "error", err)
			}
		}
	}
}

// process runs the handler and settles the delivery. Exactly one ack happens
// per delivery, and every failure path either requeues or dead-letters
// before that ack; a message is never left both un-acked and un-requeued.
func (o *Orchestrator) process(ctx context.Context, delivery *queue.Delivery) {
	envelope := delivery.Envelope

	processCtx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.process",
		attribute.String(otelhelper.QueueIDKey, string(delivery.Queue)),
		attribute.String(otelhelper.JobIDKey, envelope.ID),
	)
	defer span.End()

	err := o.handler.Process(processCtx, envelope)
	if err == nil {
		if err := o.handler.OnComplete(processCtx, envelope); err != nil {
			o.logger.WarnContext(processCtx, "OnComplete hook failed", "job_id", envelope.ID, "error", err)
		}

		o.ack(processCtx, delivery)

		return
	}

	otelhelper.SetError(span, err)
	o.logger.ErrorContext(processCtx, "Handler failed",
		"job_id", envelope.ID, "job_name", envelope.Name,
		"delivery_count", envelope.Metadata.DeliveryCount, "error", err)

	o.settleFailure(processCtx, delivery, err)
}

func (o *Orchestrator) settleFailure(ctx context.Context, delivery *queue.Delivery, handlerErr error) {
	envelope := delivery.Envelope

	if !o.policy.Retry {
		o.logger.WarnContext(ctx, "Dropping terminally failed job", "job_id", envelope.ID)
		o.ack(ctx, delivery)

		return
	}

	if o.policy.Backoff > 0 {
		o.sleep(ctx, o.policy.Backoff)
	}

	// Cooperative retry: the mutated envelope is re-published so delivery
	// count and last error stay visible on the message itself.
	envelope.Metadata.DeliveryCount++
	envelope.Metadata.Error = handlerErr.Error()

	target := delivery.Queue
	if o.policy.MaxAttempts > 0 && envelope.Metadata.DeliveryCount >= o.policy.MaxAttempts {
		if !o.policy.DeadLetter {
			o.logger.WarnContext(ctx, "Dropping exhausted job", "job_id", envelope.ID)
			o.ack(ctx, delivery)

			return
		}

		target = queue.QueueDeadLetter
		o.logger.WarnContext(ctx, "Dead-lettering job",
			"job_id", envelope.ID, "delivery_count", envelope.Metadata.DeliveryCount)
	}

	if err := o.broker.Requeue(ctx, target, envelope); err != nil {
		// Leave un-acked: the reclaimer will redeliver the original.
		o.logger.ErrorContext(ctx, "Failed to requeue job, leaving for reclaim",
			"job_id", envelope.ID, "target", string(target), "error", err)

		return
	}

	o.ack(ctx, delivery)
}

func (o *Orchestrator) ack(ctx context.Context, delivery *queue.Delivery) {
	if err := o.broker.Ack(ctx, delivery); err != nil {
		o.logger.ErrorContext(ctx, "Failed to ack delivery", "job_id", delivery.Envelope.ID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
