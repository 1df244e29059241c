package handlers

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/matcher"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
)

// MultisplitHandler routes a customer down the first branch whose conditions
// the triggering event satisfies, falling back to the all-others destination.
// Time-triggered arrivals carry no event and always take the fallback.
type MultisplitHandler struct {
	deps
}

func NewMultisplitHandler(
	journeyService *journeys.Service,
	locations location.Store,
	producer queue.Producer,
	sink protocol.AnalyticsSink,
	logger *slog.Logger,
) *MultisplitHandler {
	return &MultisplitHandler{deps: deps{
		journeys:  journeyService,
		locations: locations,
		producer:  producer,
		sink:      sink,
		logger:    logger.With("module", "multisplit_handler"),
	}}
}

func (h *MultisplitHandler) Process(ctx context.Context, envelope *queue.Envelope) error {
	a, err := h.load(ctx, envelope)
	if err != nil || a == nil {
		return err
	}

	next := a.step.Metadata.AllOthersDestination

	if a.job.Event != nil {
		for _, branch := range a.step.Metadata.Branches {
			if matcher.BranchMatches(branch, a.job.Event) {
				next = branch.Destination

				break
			}
		}
	}

	return h.advance(ctx, a, next)
}

func (h *MultisplitHandler) OnComplete(ctx context.Context, envelope *queue.Envelope) error {
	return nil
}

// ExperimentHandler assigns a customer to one weighted arm.
type ExperimentHandler struct {
	deps

	// pick returns a value in [0, 1); swapped out in tests.
	pick func() float64
}

func NewExperimentHandler(
	journeyService *journeys.Service,
	locations location.Store,
	producer queue.Producer,
	sink protocol.AnalyticsSink,
	logger *slog.Logger,
) *ExperimentHandler {
	return &ExperimentHandler{
		deps: deps{
			journeys:  journeyService,
			locations: locations,
			producer:  producer,
			sink:      sink,
			logger:    logger.With("module", "experiment_handler"),
		},
		pick: rand.Float64,
	}
}

func (h *ExperimentHandler) Process(ctx context.Context, envelope *queue.Envelope) error {
	a, err := h.load(ctx, envelope)
	if err != nil || a == nil {
		return err
	}

	return h.advance(ctx, a, pickSplit(a.step.Metadata.Splits, h.pick()))
}

func (h *ExperimentHandler) OnComplete(ctx context.Context, envelope *queue.Envelope) error {
	return nil
}

// pickSplit maps a uniform sample onto the splits' cumulative ratio ranges.
// Ratios are normalized so arms not summing to exactly 1 still partition the
// sample space; the last arm absorbs rounding.
func pickSplit(splits []*models.ExperimentSplit, sample float64) string {
	if len(splits) == 0 {
		return ""
	}

	var total float64
	for _, split := range splits {
		total += split.Ratio
	}

	if total <= 0 {
		return splits[0].Destination
	}

	cumulative := 0.0

	for _, split := range splits {
		cumulative += split.Ratio / total
		if sample < cumulative {
			return split.Destination
		}
	}

	return splits[len(splits)-1].Destination
}
