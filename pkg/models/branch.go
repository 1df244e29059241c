package models

// Relation combines a list of boolean results.
type Relation string

const (
	RelationAnd Relation = "and"
	RelationOr  Relation = "or"
)

// Combine folds results per the relation: or = any true, and = all true.
// An empty result list never matches.
func (r Relation) Combine(results []bool) bool {
	if len(results) == 0 {
		return false
	}

	for _, result := range results {
		if r == RelationOr && result {
			return true
		}

		if r != RelationOr && !result {
			return false
		}
	}

	return r != RelationOr
}

// BranchEventKind discriminates the branch event variants.
type BranchEventKind string

const (
	BranchEventAnalytics       BranchEventKind = "analytics"
	BranchEventAttributeChange BranchEventKind = "attributeChange"
	BranchEventMessage         BranchEventKind = "message"
)

// AnyStep scopes a message branch event to any step of its journey.
const AnyStep = "ANY"

// Branch is a named set of event conditions plus a destination, attached to a
// wait-until step. Its ordered events combine per Relation.
type Branch struct {
	ID          string         `json:"id"          validate:"required"`
	Events      []*BranchEvent `json:"events"      validate:"min=1"`
	Relation    Relation       `json:"relation"    validate:"required,oneof=and or"`
	Destination string         `json:"destination" validate:"required"`
}

// BranchEvent is one condition an inbound event can satisfy. Exactly one
// variant's fields are set, selected by Kind.
type BranchEvent struct {
	Kind BranchEventKind `json:"kind" validate:"required,oneof=analytics attributeChange message"`

	// analytics
	Provider   string       `json:"provider,omitempty"`
	Event      string       `json:"event,omitempty"`
	Relation   Relation     `json:"relation,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty"`

	// attributeChange
	Attribute     string `json:"attribute,omitempty"`
	ChangeKind    string `json:"change_kind,omitempty"` // changed | changedTo
	ExpectedValue string `json:"expected_value,omitempty"`
	ValueType     string `json:"value_type,omitempty"`

	// message
	Channel       string `json:"channel,omitempty"`
	FromJourneyID string `json:"from_journey_id,omitempty"`
	FromStepID    string `json:"from_step_id,omitempty"` // step id or AnyStep
	EventName     string `json:"event_name,omitempty"`   // delivered, opened, clicked, ...
}
