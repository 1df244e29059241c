package models

// ComparisonType is the operator a condition applies to its looked-up value.
type ComparisonType string

const (
	CompareExists         ComparisonType = "exists"
	CompareDoesNotExist   ComparisonType = "doesNotExist"
	CompareEqual          ComparisonType = "isEqual"
	CompareNotEqual       ComparisonType = "isNotEqual"
	CompareGreaterThan    ComparisonType = "isGreaterThan"
	CompareLessThan       ComparisonType = "isLessThan"
	CompareContains       ComparisonType = "contains"
	CompareDoesNotContain ComparisonType = "doesNotContain"
)

// ConditionKind discriminates property and element conditions.
type ConditionKind string

const (
	ConditionProperty ConditionKind = "property"
	ConditionElement  ConditionKind = "element"
)

// ElementFilter selects which element value an element condition compares.
type ElementFilter string

const (
	ElementFilterText ElementFilter = "text"
	ElementFilterTag  ElementFilter = "tag_name"
)

// Condition is one predicate inside an analytics branch event. Property
// conditions compare a payload value looked up by key; element conditions
// index into the event's element list in DOM order.
type Condition struct {
	Kind ConditionKind `json:"kind" validate:"required,oneof=property element"`

	// property
	Key       string `json:"key,omitempty"`
	ValueType string `json:"value_type,omitempty"`

	// element
	OrderIndex int           `json:"order_index,omitempty"`
	Filter     ElementFilter `json:"filter,omitempty"`

	Comparison ComparisonType `json:"comparison" validate:"required"`
	Value      string         `json:"value,omitempty"`
}
