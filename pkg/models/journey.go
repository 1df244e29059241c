// Package models defines the core domain models for journey advancement.
package models

import "time"

// JourneyStatus represents the lifecycle state of a journey.
type JourneyStatus string

const (
	JourneyStatusDraft   JourneyStatus = "draft"   // Editable, not evaluable
	JourneyStatusActive  JourneyStatus = "active"  // Evaluable, graph frozen
	JourneyStatusPaused  JourneyStatus = "paused"  // No new evaluations start
	JourneyStatusStopped JourneyStatus = "stopped" // Terminal, no evaluations
	JourneyStatusDeleted JourneyStatus = "deleted" // Soft-deleted
)

// JourneySettings carries journey-level operational limits.
type JourneySettings struct {
	QuietHours      *QuietHours `json:"quiet_hours,omitempty"`
	MaxEntries      int         `json:"max_entries,omitempty"`       // 0 = unlimited
	MaxMessageSends int         `json:"max_message_sends,omitempty"` // 0 = unlimited
}

// QuietHours suppresses message sends inside a daily window.
type QuietHours struct {
	StartHour int `json:"start_hour" validate:"min=0,max=23"`
	EndHour   int `json:"end_hour"   validate:"min=0,max=23"`
}

// Journey represents a multi-step customer flow. The step graph is immutable
// once the journey leaves draft; only the operational flags change after that.
type Journey struct {
	ID            string          `json:"id"            validate:"required"`
	WorkspaceID   string          `json:"workspace_id"  validate:"required"`
	Name          string          `json:"name"          validate:"required,min=3"`
	Status        JourneyStatus   `json:"status"        validate:"required"`
	EntryCriteria map[string]any  `json:"entry_criteria,omitempty"`
	Settings      JourneySettings `json:"settings"`
	Steps         []*Step         `json:"steps"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ActivatedAt   *time.Time      `json:"activated_at,omitempty"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
}

// Evaluable reports whether events may start new evaluations against this
// journey. Paused and stopped journeys only stop new evaluations; in-flight
// transitions are never aborted.
func (j *Journey) Evaluable() bool {
	return j.Status == JourneyStatusActive
}

// StepByID returns the step with the given id, or nil.
func (j *Journey) StepByID(id string) *Step {
	for _, step := range j.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// WaitSteps returns the steps an inbound event can satisfy: wait-until steps
// declaring at least one branch.
func (j *Journey) WaitSteps() []*Step {
	steps := make([]*Step, 0)

	for _, step := range j.Steps {
		if step.Type == StepTypeWaitUntil && len(step.Metadata.Branches) > 0 {
			steps = append(steps, step)
		}
	}

	return steps
}
