// Package matcher evaluates inbound events against the branch trees of
// wait-until steps and decides which step, if any, a customer advances past.
package matcher

import (
	"strconv"
	"strings"

	"github.com/loopkit/loopkit/pkg/events"
	"github.com/loopkit/loopkit/pkg/models"
)

// ProviderAutocapture emits raw DOM interaction names; its events are exposed
// to branch authors under one canonical name.
const ProviderAutocapture = "autocapture"

// CanonicalAutocaptureEvent is what branch authors select to match any
// autocapture interaction.
const CanonicalAutocaptureEvent = "Autocapture"

// PageURLKey is the reserved property key resolved from the event context
// instead of the payload.
const PageURLKey = "page_url"

var autocaptureRawNames = map[string]bool{
	"click":  true,
	"change": true,
	"submit": true,
}

// canonicalEventName maps provider-specific raw names onto the canonical name
// branch authors use. The mapping applies only to the emitting provider; a
// raw "click" from any other provider stays "click".
func canonicalEventName(provider, name string) string {
	if provider == ProviderAutocapture && autocaptureRawNames[name] {
		return CanonicalAutocaptureEvent
	}

	return name
}

// BranchMatches evaluates every event condition of the branch against one
// inbound event and combines the results per the branch relation.
func BranchMatches(branch *models.Branch, event *events.IngestedEvent) bool {
	results := make([]bool, 0, len(branch.Events))

	for _, branchEvent := range branch.Events {
		results = append(results, branchEventMatches(branchEvent, event))
	}

	return branch.Relation.Combine(results)
}

func branchEventMatches(branchEvent *models.BranchEvent, event *events.IngestedEvent) bool {
	switch branchEvent.Kind {
	case models.BranchEventAnalytics:
		return analyticsMatches(branchEvent, event)
	case models.BranchEventAttributeChange:
		return attributeChangeMatches(branchEvent, event)
	case models.BranchEventMessage:
		return messageMatches(branchEvent, event)
	default:
		return false
	}
}

func analyticsMatches(branchEvent *models.BranchEvent, event *events.IngestedEvent) bool {
	switch event.Source {
	case events.SourceTracker, events.SourceProviderAnalytics, events.SourceMobile:
	default:
		return false
	}

	if branchEvent.Provider != "" && branchEvent.Provider != event.Provider {
		return false
	}

	if branchEvent.Event != canonicalEventName(event.Provider, event.Event) {
		return false
	}

	if len(branchEvent.Conditions) == 0 {
		return true
	}

	results := make([]bool, 0, len(branchEvent.Conditions))

	for _, condition := range branchEvent.Conditions {
		results = append(results, conditionMatches(condition, event))
	}

	return branchEvent.Relation.Combine(results)
}

func attributeChangeMatches(branchEvent *models.BranchEvent, event *events.IngestedEvent) bool {
	if event.Source != events.SourceAttributeChange {
		return false
	}

	if branchEvent.Attribute != event.Attribute {
		return false
	}

	if branchEvent.ChangeKind == "changedTo" {
		return branchEvent.ExpectedValue == event.AttributeValue
	}

	return true
}

func messageMatches(branchEvent *models.BranchEvent, event *events.IngestedEvent) bool {
	if event.Source != events.SourceMessageDelivery {
		return false
	}

	if branchEvent.Channel != "" && branchEvent.Channel != event.Channel {
		return false
	}

	if branchEvent.FromJourneyID != "" && branchEvent.FromJourneyID != event.JourneyID {
		return false
	}

	if branchEvent.FromStepID != models.AnyStep && branchEvent.FromStepID != event.StepID {
		return false
	}

	return branchEvent.EventName == event.Event
}

func conditionMatches(condition *models.Condition, event *events.IngestedEvent) bool {
	switch condition.Kind {
	case models.ConditionProperty:
		value, found := lookupProperty(condition.Key, event)

		return compare(condition.Comparison, value, found, condition.Value)
	case models.ConditionElement:
		return elementMatches(condition, event)
	default:
		return false
	}
}

// lookupProperty resolves a condition key against the event payload. The page
// URL lives in the event context, not the payload, so its key is reserved.
func lookupProperty(key string, event *events.IngestedEvent) (any, bool) {
	if key == PageURLKey {
		value, found := event.Context["url"]

		return value, found
	}

	value, found := event.Payload[key]

	return value, found
}

func elementMatches(condition *models.Condition, event *events.IngestedEvent) bool {
	if condition.OrderIndex < 0 || condition.OrderIndex >= len(event.Elements) {
		return compare(condition.Comparison, nil, false, condition.Value)
	}

	element := event.Elements[condition.OrderIndex]

	var value string

	switch condition.Filter {
	case models.ElementFilterTag:
		value = element.TagName
	default:
		value = element.Text
	}

	return compare(condition.Comparison, value, true, condition.Value)
}

func compare(comparison models.ComparisonType, actual any, found bool, expected string) bool {
	switch comparison {
	case models.CompareExists:
		return found
	case models.CompareDoesNotExist:
		return !found
	}

	if !found {
		return false
	}

	actualStr := stringify(actual)

	switch comparison {
	case models.CompareEqual:
		return actualStr == expected
	case models.CompareNotEqual:
		return actualStr != expected
	case models.CompareGreaterThan:
		actualNum, expectedNum, ok := numbers(actualStr, expected)

		return ok && actualNum > expectedNum
	case models.CompareLessThan:
		actualNum, expectedNum, ok := numbers(actualStr, expected)

		return ok && actualNum < expectedNum
	case models.CompareContains:
		return strings.Contains(actualStr, expected)
	case models.CompareDoesNotContain:
		return !strings.Contains(actualStr, expected)
	default:
		return false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func numbers(actual, expected string) (float64, float64, bool) {
	actualNum, err := strconv.ParseFloat(actual, 64)
	if err != nil {
		return 0, 0, false
	}

	expectedNum, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return 0, 0, false
	}

	return actualNum, expectedNum, true
}
