package handler

import (
	"strings"

	"incentra/internal/webhook/models"
	"incentra/internal/webhook/service"
	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
)

// CreateSubscriptionRequest is the HTTP request body for POST /api/v1/webhooks.
type CreateSubscriptionRequest struct {
	URL         string                 `json:"url"`
	EventTypes  []string               `json:"event_types"`
	Filters     *models.FilterCriteria `json:"filters,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
	MaxAttempts int                    `json:"max_attempts,omitempty"`

	parsedEventTypes []models.EventType
}

// Validate validates and parses the request.
func (r *CreateSubscriptionRequest) Validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return dErrors.New(dErrors.CodeValidation, "url is required")
	}
	if err := models.ValidateTargetURL(r.URL); err != nil {
		return err
	}
	if len(r.EventTypes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "event_types is required")
	}
	parsed, err := parseEventTypes(r.EventTypes)
	if err != nil {
		return err
	}
	r.parsedEventTypes = parsed
	if r.MaxAttempts < 0 || r.MaxAttempts > models.MaxAttempts {
		return dErrors.Newf(dErrors.CodeValidation, "max_attempts must be between %d and %d", models.MinAttempts, models.MaxAttempts)
	}
	return nil
}

// ToParams converts the validated request to service parameters.
func (r *CreateSubscriptionRequest) ToParams() service.CreateSubscriptionParams {
	return service.CreateSubscriptionParams{
		URL:         r.URL,
		EventTypes:  r.parsedEventTypes,
		Filters:     r.Filters,
		Headers:     r.Headers,
		MaxAttempts: r.MaxAttempts,
	}
}

// UpdateSubscriptionRequest is the HTTP request body for PATCH
// /api/v1/webhooks/{id}. Absent fields are left unchanged.
type UpdateSubscriptionRequest struct {
	URL         *string                `json:"url,omitempty"`
	EventTypes  []string               `json:"event_types,omitempty"`
	Filters     *models.FilterCriteria `json:"filters,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
	Active      *bool                  `json:"active,omitempty"`
	MaxAttempts *int                   `json:"max_attempts,omitempty"`

	parsedEventTypes []models.EventType
}

// Validate validates and parses the request.
func (r *UpdateSubscriptionRequest) Validate() error {
	if r.URL != nil {
		*r.URL = strings.TrimSpace(*r.URL)
		if err := models.ValidateTargetURL(*r.URL); err != nil {
			return err
		}
	}
	if r.EventTypes != nil {
		parsed, err := parseEventTypes(r.EventTypes)
		if err != nil {
			return err
		}
		r.parsedEventTypes = parsed
	}
	return nil
}

// ToParams converts the validated request to service parameters.
func (r *UpdateSubscriptionRequest) ToParams() service.UpdateSubscriptionParams {
	return service.UpdateSubscriptionParams{
		URL:         r.URL,
		EventTypes:  r.parsedEventTypes,
		Filters:     r.Filters,
		Headers:     r.Headers,
		Active:      r.Active,
		MaxAttempts: r.MaxAttempts,
	}
}

// DispatchRequest is the HTTP request body for POST /internal/v1/events.
type DispatchRequest struct {
	EventType      string         `json:"event_type"`
	OrganizationID string         `json:"organization_id"`
	Data           map[string]any `json:"data"`

	parsedEventType models.EventType
	parsedOrgID     id.OrgID
}

// Validate validates and parses the request.
func (r *DispatchRequest) Validate() error {
	et := models.EventType(strings.TrimSpace(r.EventType))
	if !et.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown event type %q", r.EventType)
	}
	r.parsedEventType = et

	orgID, err := id.ParseOrgID(r.OrganizationID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "organization_id must be a valid UUID")
	}
	r.parsedOrgID = orgID
	return nil
}

// ParsedEventType returns the validated event type.
func (r *DispatchRequest) ParsedEventType() models.EventType {
	return r.parsedEventType
}

// ParsedOrgID returns the validated organization ID.
func (r *DispatchRequest) ParsedOrgID() id.OrgID {
	return r.parsedOrgID
}

func parseEventTypes(raw []string) ([]models.EventType, error) {
	out := make([]models.EventType, 0, len(raw))
	for _, v := range raw {
		et := models.EventType(strings.TrimSpace(v))
		if !et.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown event type %q", v)
		}
		out = append(out, et)
	}
	return out, nil
}
