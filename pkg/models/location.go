package models

import "time"

// Location is a customer's current position within a journey plus its lock
// state. Invariant: at most one row per (journey, customer), and at most one
// in-flight lock on that row; the lock marker is the sole mechanism
// preventing double-advancement.
type Location struct {
	JourneyID      string     `json:"journey_id"  validate:"required"`
	CustomerID     string     `json:"customer_id" validate:"required"`
	WorkspaceID    string     `json:"workspace_id" validate:"required"`
	StepID         string     `json:"step_id"`
	JourneyEntryAt time.Time  `json:"journey_entry_at"`
	StepEntryAt    time.Time  `json:"step_entry_at"`
	MoveStartedAt  *time.Time `json:"move_started_at,omitempty"`
	MoveSession    string     `json:"move_session,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	MessagesSent   int        `json:"messages_sent"`
}

// Moving reports whether a transition is in flight for this row.
func (l *Location) Moving() bool {
	return l.MoveStartedAt != nil
}

// WorkspaceContext is the resolved workspace identity passed explicitly into
// the matcher and location store, in place of navigating an
// account-team-organization graph at every call site.
type WorkspaceContext struct {
	WorkspaceID    string `json:"workspace_id" validate:"required"`
	OrganizationID string `json:"organization_id"`
	TeamID         string `json:"team_id"`
}
