package handlers

import (
	"log/slog"

	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/orchestrator"
	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
)

// RegisterAll wires every step queue to its handler.
func RegisterAll(
	registry *orchestrator.Registry,
	journeyService *journeys.Service,
	locations location.Store,
	producer queue.Producer,
	sink protocol.AnalyticsSink,
	adapter protocol.SendAdapter,
	logger *slog.Logger,
) {
	park := NewParkHandler(journeyService, locations, producer, sink, logger)

	registry.Register(queue.QueueWaitUntilStep, park)
	registry.Register(queue.QueueTimeDelayStep, park)
	registry.Register(queue.QueueTimeWindowStep, park)
	registry.Register(queue.QueueExitStep, NewExitHandler(journeyService, locations, producer, sink, logger))
	registry.Register(queue.QueueMessageStep, NewMessageHandler(journeyService, locations, producer, sink, logger))
	registry.Register(queue.QueueMultisplitStep, NewMultisplitHandler(journeyService, locations, producer, sink, logger))
	registry.Register(queue.QueueExperimentStep, NewExperimentHandler(journeyService, locations, producer, sink, logger))
	registry.Register(queue.QueueMessageSend, NewSendHandler(adapter, sink, logger))
}
