package orchestrator

import (
	"fmt"

	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
)

// Registry is the injected queue-to-handler mapping, constructed at process
// startup so tests can substitute fakes.
type Registry struct {
	handlers map[queue.QueueID]protocol.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[queue.QueueID]protocol.Handler)}
}

func (r *Registry) Register(queueID queue.QueueID, handler protocol.Handler) {
	r.handlers[queueID] = handler
}

func (r *Registry) Handler(queueID queue.QueueID) (protocol.Handler, error) {
	handler, ok := r.handlers[queueID]
	if !ok {
		return nil, fmt.Errorf("no handler registered for queue %q", queueID)
	}

	return handler, nil
}

// Queues lists every queue with a registered handler.
func (r *Registry) Queues() []queue.QueueID {
	queues := make([]queue.QueueID, 0, len(r.handlers))
	for queueID := range r.handlers {
		queues = append(queues, queueID)
	}

	return queues
}
