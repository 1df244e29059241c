package queue

import (
	"context"
	"errors"

	"github.com/loopkit/loopkit/pkg/models"
)

// ErrNoQueueForStep indicates a step type with no dedicated queue; such steps
// are not publishable this way.
var ErrNoQueueForStep = errors.New("no queue registered for step type")

// stepQueues is the fixed queue-per-step-type lookup.
var stepQueues = map[models.StepType]QueueID{
	models.StepTypeMessage:    QueueMessageStep,
	models.StepTypeWaitUntil:  QueueWaitUntilStep,
	models.StepTypeTimeDelay:  QueueTimeDelayStep,
	models.StepTypeTimeWindow: QueueTimeWindowStep,
	models.StepTypeMultisplit: QueueMultisplitStep,
	models.StepTypeExperiment: QueueExperimentStep,
	models.StepTypeExit:       QueueExitStep,
}

// QueueForStep resolves the queue a step type's advance jobs are published to.
func QueueForStep(stepType models.StepType) (QueueID, error) {
	queue, ok := stepQueues[stepType]
	if !ok {
		return "", ErrNoQueueForStep
	}

	return queue, nil
}

// Producer publishes durable messages. Delivery is at-least-once; consumers
// must tolerate redelivery before ack.
type Producer interface {
	// Add publishes one message. Priority is computed from the payload's
	// step depth.
	Add(ctx context.Context, queue QueueID, payload any, jobName string) (*Envelope, error)

	// AddBulk publishes many messages under a single shared depth.
	AddBulk(ctx context.Context, queue QueueID, payloads []any, jobName string) ([]*Envelope, error)

	// Requeue re-publishes an envelope as-is, preserving its priority and
	// attempt metadata. Used by the orchestrator's cooperative retry.
	Requeue(ctx context.Context, queue QueueID, envelope *Envelope) error
}

// Delivery is one consumed message awaiting ack.
type Delivery struct {
	Queue    QueueID
	Envelope *Envelope

	// receipt identifies the parked broker entry for Ack.
	receipt string
}

// Consumer fetches deliveries and acknowledges them exactly once each.
type Consumer interface {
	// Fetch pops up to n messages by ascending priority and parks them for
	// redelivery until acked.
	Fetch(ctx context.Context, queue QueueID, n int) ([]*Delivery, error)

	// Ack removes a parked delivery. Acking twice is a no-op.
	Ack(ctx context.Context, delivery *Delivery) error

	// Reclaim returns parked deliveries whose redelivery deadline passed
	// back to the pending queue. Called periodically by consumer processes.
	Reclaim(ctx context.Context, queue QueueID) (int, error)
}

// Broker combines both sides of the queue client.
type Broker interface {
	Producer
	Consumer
}
