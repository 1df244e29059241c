// Package queue provides the durable work-queue client: priority assignment,
// bulk publish, and consume-with-ack on top of Redis.
package queue

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QueueID names a durable queue.
type QueueID string

const (
	// QueueEvents is the primary event-ingestion queue. Failures on it are
	// retried indefinitely; events must never be dropped.
	QueueEvents QueueID = "events"

	QueueMessageStep    QueueID = "message.step"
	QueueWaitUntilStep  QueueID = "wait.until.step"
	QueueTimeDelayStep  QueueID = "time.delay.step"
	QueueTimeWindowStep QueueID = "time.window.step"
	QueueMultisplitStep QueueID = "multisplit.step"
	QueueExperimentStep QueueID = "experiment.step"
	QueueExitStep       QueueID = "exit.step"

	// QueueMessageSend carries provider sends. A failed send is terminal;
	// duplicate sends are worse than a dropped one.
	QueueMessageSend QueueID = "message.send"

	// QueueDeadLetter retains exhausted messages for inspection and replay.
	QueueDeadLetter QueueID = "dead.letter"
)

// Envelope is the broker message: opaque payload plus priority assigned at
// publish time and attempt metadata mutated only by the orchestrator on
// requeue.
type Envelope struct {
	ID       string           `json:"id"`
	Name     string           `json:"name,omitempty"`
	Payload  json.RawMessage  `json:"payload"`
	Opts     EnvelopeOpts     `json:"opts"`
	Metadata EnvelopeMetadata `json:"metadata"`
}

type EnvelopeOpts struct {
	Priority int `json:"priority"`
}

type EnvelopeMetadata struct {
	DeliveryCount int    `json:"delivery_count"`
	Error         string `json:"error,omitempty"`
}

// Decode unmarshals the payload into out.
func (e *Envelope) Decode(out any) error {
	return json.Unmarshal(e.Payload, out)
}

func newEnvelope(name string, payload any, priority int) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: raw,
		Opts:    EnvelopeOpts{Priority: priority},
	}, nil
}

// DepthCarrier is implemented by payloads that know their step depth, used
// for priority assignment.
type DepthCarrier interface {
	JobDepth() int
}
