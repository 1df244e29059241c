package models

import "github.com/loopkit/loopkit/pkg/events"

// AdvanceJob asks a worker to move a customer past their current step. The
// location lock is held when the job is published and released by the
// consumer once the step's action completes. The job is published to the
// queue of the destination step's type.
type AdvanceJob struct {
	JourneyID   string `json:"journey_id"`
	CustomerID  string `json:"customer_id"`
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id"`
	StepID      string `json:"step_id"`     // the locked, current step
	Destination string `json:"destination"` // matched branch destination
	StepDepth   int    `json:"step_depth"`  // 1 = first step after enrollment
	EventID     string `json:"event_id,omitempty"`

	// Event is the triggering inbound event, carried so downstream
	// multisplit steps can branch on it. Nil for time-triggered jobs.
	Event *events.IngestedEvent `json:"event,omitempty"`
}

// JobDepth feeds priority banding.
func (j AdvanceJob) JobDepth() int { return j.StepDepth }

// SendJob carries one provider send. Failures are terminal: duplicate sends
// are worse than a dropped one.
type SendJob struct {
	JourneyID   string `json:"journey_id"`
	StepID      string `json:"step_id"`
	CustomerID  string `json:"customer_id"`
	WorkspaceID string `json:"workspace_id"`
	Channel     string `json:"channel"`
	TemplateID  string `json:"template_id"`
	StepDepth   int    `json:"step_depth"`
}

func (j SendJob) JobDepth() int { return j.StepDepth }
