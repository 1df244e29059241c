package models

// StepType identifies the behavior of a step.
type StepType string

const (
	StepTypeMessage    StepType = "message"
	StepTypeWaitUntil  StepType = "waitUntil"
	StepTypeTimeDelay  StepType = "timeDelay"
	StepTypeTimeWindow StepType = "timeWindow"
	StepTypeMultisplit StepType = "multisplit"
	StepTypeExperiment StepType = "experiment"
	StepTypeExit       StepType = "exit"
)

// Step is one node in a journey's directed graph. Metadata is type-specific;
// the graph is validated acyclic once at activation, not per event.
type Step struct {
	ID        string       `json:"id"         validate:"required"`
	JourneyID string       `json:"journey_id" validate:"required"`
	Type      StepType     `json:"type"       validate:"required"`
	Metadata  StepMetadata `json:"metadata"`
}

// StepMetadata is the union of the type-specific payloads. Which fields are
// meaningful depends on the step type; ValidateStepMetadata enforces the
// shape per type at activation time.
type StepMetadata struct {
	Branches []*Branch `json:"branches,omitempty"`

	// message
	Channel    string `json:"channel,omitempty"`  // email, sms, push, chat
	TemplateID string `json:"template_id,omitempty"`
	SendTo     string `json:"send_to,omitempty"`

	// timeDelay
	DelaySeconds int64 `json:"delay_seconds,omitempty"`

	// timeWindow
	Window *TimeWindow `json:"window,omitempty"`

	// experiment
	Splits []*ExperimentSplit `json:"splits,omitempty"`

	// message / timeDelay / timeWindow / multisplit default destination
	Destination string `json:"destination,omitempty"`
	// multisplit fallback when no branch matches
	AllOthersDestination string `json:"all_others_destination,omitempty"`
}

// TimeWindow describes when a time-window step lets customers through,
// either as an absolute date range or a recurring weekly range.
type TimeWindow struct {
	From *string `json:"from,omitempty"` // RFC 3339, absolute range start
	To   *string `json:"to,omitempty"`   // RFC 3339, absolute range end

	OnDays    []int  `json:"on_days,omitempty"`    // 0 = Sunday
	FromTime  string `json:"from_time,omitempty"`  // "HH:MM", recurring range
	ToTime    string `json:"to_time,omitempty"`    // "HH:MM"
}

// ExperimentSplit is one weighted arm of an experiment step.
type ExperimentSplit struct {
	Ratio       float64 `json:"ratio"       validate:"gt=0,lte=1"`
	Destination string  `json:"destination" validate:"required"`
}

// NextDestinations lists every step id reachable from this step in one hop.
// Used by the activation-time cycle check.
func (s *Step) NextDestinations() []string {
	destinations := make([]string, 0)

	if s.Metadata.Destination != "" {
		destinations = append(destinations, s.Metadata.Destination)
	}

	if s.Metadata.AllOthersDestination != "" {
		destinations = append(destinations, s.Metadata.AllOthersDestination)
	}

	for _, branch := range s.Metadata.Branches {
		if branch.Destination != "" {
			destinations = append(destinations, branch.Destination)
		}
	}

	for _, split := range s.Metadata.Splits {
		if split.Destination != "" {
			destinations = append(destinations, split.Destination)
		}
	}

	return destinations
}

// Terminal reports whether the step has no outgoing destination. Reaching a
// terminal step is how journey completion is inferred; the location row is
// kept until explicit un-enrollment.
func (s *Step) Terminal() bool {
	return len(s.NextDestinations()) == 0
}
