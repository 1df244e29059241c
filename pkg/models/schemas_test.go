package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStepMetadata_MessageMissingTemplate(t *testing.T) {
	step := &Step{ID: "s1", JourneyID: "j1", Type: StepTypeMessage, Metadata: StepMetadata{
		Channel: "email",
	}}

	err := ValidateStepMetadata(step)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template_id")
}

func TestValidateStepMetadata_TimeDelayNeedsPositiveDelay(t *testing.T) {
	step := &Step{ID: "s1", JourneyID: "j1", Type: StepTypeTimeDelay, Metadata: StepMetadata{
		Destination: "s2",
	}}

	assert.Error(t, ValidateStepMetadata(step))

	step.Metadata.DelaySeconds = 300
	assert.NoError(t, ValidateStepMetadata(step))
}

func TestValidateStepMetadata_UnknownType(t *testing.T) {
	step := &Step{ID: "s1", JourneyID: "j1", Type: StepType("teleport")}

	assert.Error(t, ValidateStepMetadata(step))
}
