package handlers

import (
	"context"
	"log/slog"

	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
)

// ParkHandler settles a customer at a wait-type step (waitUntil, timeDelay,
// timeWindow). The step acts later: waitUntil when a matching event arrives,
// the time steps when the trigger's scan finds them satisfied.
type ParkHandler struct {
	deps
}

func NewParkHandler(
	journeyService *journeys.Service,
	locations location.Store,
	producer queue.Producer,
	sink protocol.AnalyticsSink,
	logger *slog.Logger,
) *ParkHandler {
	return &ParkHandler{deps: deps{
		journeys:  journeyService,
		locations: locations,
		producer:  producer,
		sink:      sink,
		logger:    logger.With("module", "park_handler"),
	}}
}

func (h *ParkHandler) Process(ctx context.Context, envelope *queue.Envelope) error {
	a, err := h.load(ctx, envelope)
	if err != nil || a == nil {
		return err
	}

	return h.park(ctx, a)
}

func (h *ParkHandler) OnComplete(ctx context.Context, envelope *queue.Envelope) error {
	return nil
}

// ExitHandler settles a customer at an exit step. Exit steps are terminal;
// the location row is kept and completion is inferred from standing at a
// step with no outgoing destination.
type ExitHandler struct {
	deps
}

func NewExitHandler(
	journeyService *journeys.Service,
	locations location.Store,
	producer queue.Producer,
	sink protocol.AnalyticsSink,
	logger *slog.Logger,
) *ExitHandler {
	return &ExitHandler{deps: deps{
		journeys:  journeyService,
		locations: locations,
		producer:  producer,
		sink:      sink,
		logger:    logger.With("module", "exit_handler"),
	}}
}

func (h *ExitHandler) Process(ctx context.Context, envelope *queue.Envelope) error {
	a, err := h.load(ctx, envelope)
	if err != nil || a == nil {
		return err
	}

	return h.park(ctx, a)
}

func (h *ExitHandler) OnComplete(ctx context.Context, envelope *queue.Envelope) error {
	return nil
}
