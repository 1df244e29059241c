package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearJourney() *Journey {
	return &Journey{
		ID:          "j1",
		WorkspaceID: "ws1",
		Name:        "Welcome flow",
		Status:      JourneyStatusDraft,
		Steps: []*Step{
			{ID: "s1", JourneyID: "j1", Type: StepTypeWaitUntil, Metadata: StepMetadata{
				Branches: []*Branch{{
					ID:          "b1",
					Relation:    RelationAnd,
					Destination: "s2",
					Events:      []*BranchEvent{{Kind: BranchEventAnalytics, Event: "signup"}},
				}},
			}},
			{ID: "s2", JourneyID: "j1", Type: StepTypeMessage, Metadata: StepMetadata{
				Channel:     "email",
				TemplateID:  "tpl-1",
				Destination: "s3",
			}},
			{ID: "s3", JourneyID: "j1", Type: StepTypeExit, Metadata: StepMetadata{}},
		},
	}
}

func TestValidateForActivation_Linear(t *testing.T) {
	require.NoError(t, linearJourney().ValidateForActivation())
}

func TestValidateForActivation_Cycle(t *testing.T) {
	journey := linearJourney()
	journey.Steps[2] = &Step{ID: "s3", JourneyID: "j1", Type: StepTypeTimeDelay, Metadata: StepMetadata{
		DelaySeconds: 60,
		Destination:  "s1",
	}}

	// s1 is a wait step with no incoming requirement, but s3 -> s1 -> s2 -> s3
	// closes a loop.
	err := journey.ValidateForActivation()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicGraph)
}

func TestValidateForActivation_UnknownDestination(t *testing.T) {
	journey := linearJourney()
	journey.Steps[1].Metadata.Destination = "missing"

	err := journey.ValidateForActivation()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestStepTerminal(t *testing.T) {
	journey := linearJourney()

	assert.False(t, journey.Steps[0].Terminal())
	assert.False(t, journey.Steps[1].Terminal())
	assert.True(t, journey.Steps[2].Terminal())
}

func TestWaitSteps(t *testing.T) {
	journey := linearJourney()

	steps := journey.WaitSteps()
	require.Len(t, steps, 1)
	assert.Equal(t, "s1", steps[0].ID)
}
