package queue

import "math/rand/v2"

const (
	// MaxPriority bounds the broker priority space.
	MaxPriority = 1_000_000

	// MaxJourneyDepth clamps step depth so the band mapping stays
	// well-defined for arbitrarily long journeys.
	MaxJourneyDepth = 100

	// BandSize is the width of one depth band.
	BandSize = MaxPriority / MaxJourneyDepth
)

// PriorityForDepth maps a job's step depth (1 = first step after enrollment)
// onto the priority space. Each depth owns a non-overlapping band so
// short-journey traffic cannot starve long-running journeys or vice versa;
// within the band the value is drawn uniformly at random so jobs at the same
// depth carry no head-of-line ordering bias.
func PriorityForDepth(depth int) int {
	if depth < 1 {
		depth = 1
	}

	if depth > MaxJourneyDepth {
		depth = MaxJourneyDepth
	}

	return (depth-1)*BandSize + 1 + rand.IntN(BandSize)
}

// BandRange returns the inclusive priority range owned by a depth.
func BandRange(depth int) (low, high int) {
	if depth < 1 {
		depth = 1
	}

	if depth > MaxJourneyDepth {
		depth = MaxJourneyDepth
	}

	return (depth-1)*BandSize + 1, depth * BandSize
}

// depthOf extracts a payload's step depth, defaulting to 1.
func depthOf(payload any) int {
	carrier, ok := payload.(DepthCarrier)
	if !ok || carrier.JobDepth() < 1 {
		return 1
	}

	return carrier.JobDepth()
}

// sharedDepth derives one depth for a whole batch: the first non-empty step
// depth found, defaulting to 1. A batch is assumed homogeneous in depth.
func sharedDepth(payloads []any) int {
	for _, payload := range payloads {
		if carrier, ok := payload.(DepthCarrier); ok && carrier.JobDepth() >= 1 {
			return carrier.JobDepth()
		}
	}

	return 1
}
