// Package filter evaluates subscription filter criteria against event data.
// It is a pure predicate: no I/O, no state.
package filter

import (
	"encoding/json"

	"incentra/internal/webhook/models"
)

// listDimensions maps each list-type criteria dimension to the event data
// field it constrains.
var listDimensions = []struct {
	field  string
	values func(*models.FilterCriteria) []string
}{
	{"project_id", func(c *models.FilterCriteria) []string { return c.ProjectIDs }},
	{"application_id", func(c *models.FilterCriteria) []string { return c.ApplicationIDs }},
	{"program_id", func(c *models.FilterCriteria) []string { return c.ProgramIDs }},
	{"status", func(c *models.FilterCriteria) []string { return c.Statuses }},
	{"sector", func(c *models.FilterCriteria) []string { return c.Sectors }},
	{"state", func(c *models.FilterCriteria) []string { return c.States }},
}

// valueFields is the ordered set of value-bearing fields; the first present
// one feeds the min/max dimension.
var valueFields = []string{
	"amount_requested",
	"incentive_amount",
	"estimated_value",
	"project_value",
}

// Matches reports whether eventData satisfies criteria. Nil or empty criteria
// match everything. Every populated dimension must pass (logical AND).
//
// List-type dimensions fail closed: an event missing the constrained field
// does not match. The value-range dimension is the exception — it is skipped
// entirely when the event carries no value-bearing field, since many event
// families legitimately have no monetary value.
func Matches(eventData map[string]any, criteria *models.FilterCriteria) bool {
	if criteria.IsEmpty() {
		return true
	}

	for _, dim := range listDimensions {
		allowed := dim.values(criteria)
		if len(allowed) == 0 {
			continue
		}
		value, ok := eventData[dim.field].(string)
		if !ok || !contains(allowed, value) {
			return false
		}
	}

	if criteria.MinValue != nil || criteria.MaxValue != nil {
		value, ok := eventValue(eventData)
		if ok {
			if criteria.MinValue != nil && value < *criteria.MinValue {
				return false
			}
			if criteria.MaxValue != nil && value > *criteria.MaxValue {
				return false
			}
		}
	}

	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// eventValue returns the first present value-bearing field as a float64.
func eventValue(data map[string]any) (float64, bool) {
	for _, field := range valueFields {
		raw, present := data[field]
		if !present {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
