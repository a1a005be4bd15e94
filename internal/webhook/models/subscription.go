package models

import (
	"net/url"
	"time"

	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
)

// Attempt budget bounds. A subscription may choose its own budget within
// these; zero means "use the service default".
const (
	MinAttempts = 1
	MaxAttempts = 10
)

// FilterCriteria narrows which events a subscription receives beyond its
// event-type set. A nil or empty criteria object matches everything. Each
// populated dimension is evaluated independently and all must pass; see the
// filter package for the matching rules.
type FilterCriteria struct {
	ProjectIDs     []string `json:"project_ids,omitempty"`
	ApplicationIDs []string `json:"application_ids,omitempty"`
	ProgramIDs     []string `json:"program_ids,omitempty"`
	Statuses       []string `json:"statuses,omitempty"`
	Sectors        []string `json:"sectors,omitempty"`
	States         []string `json:"states,omitempty"`
	MinValue       *float64 `json:"min_value,omitempty"`
	MaxValue       *float64 `json:"max_value,omitempty"`
}

// IsEmpty reports whether no dimension is configured.
func (c *FilterCriteria) IsEmpty() bool {
	if c == nil {
		return true
	}
	return len(c.ProjectIDs) == 0 &&
		len(c.ApplicationIDs) == 0 &&
		len(c.ProgramIDs) == 0 &&
		len(c.Statuses) == 0 &&
		len(c.Sectors) == 0 &&
		len(c.States) == 0 &&
		c.MinValue == nil &&
		c.MaxValue == nil
}

// Subscription is a caller-configured webhook endpoint.
//
// Invariants:
//   - URL is an absolute http(s) URL
//   - EventTypes is non-empty and drawn from the closed event-type set
//   - MaxAttempts is within [MinAttempts, MaxAttempts]
//   - Secret is opaque and must never be logged or serialized
//
// The dispatch subsystem never deletes subscriptions; deactivation is the
// only removal. It mutates only the Last* trigger timestamps.
type Subscription struct {
	ID     id.SubscriptionID `json:"id"`
	OrgID  id.OrgID          `json:"organization_id"`
	URL    string            `json:"url"`
	Secret string            `json:"-"`

	EventTypes []EventType       `json:"event_types"`
	Filters    *FilterCriteria   `json:"filters,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`

	Active      bool `json:"active"`
	MaxAttempts int  `json:"max_attempts"`

	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt   *time.Time `json:"last_failure_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSubscription validates invariants and constructs an active subscription.
func NewSubscription(orgID id.OrgID, rawURL, secret string, eventTypes []EventType, maxAttempts int, now time.Time) (*Subscription, error) {
	if err := ValidateTargetURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subscription secret cannot be empty")
	}
	if len(eventTypes) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subscription must name at least one event type")
	}
	for _, et := range eventTypes {
		if !et.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown event type %q", et)
		}
	}
	if maxAttempts < MinAttempts || maxAttempts > MaxAttempts {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "max attempts must be between %d and %d", MinAttempts, MaxAttempts)
	}

	return &Subscription{
		ID:          id.NewSubscriptionID(),
		OrgID:       orgID,
		URL:         rawURL,
		Secret:      secret,
		EventTypes:  eventTypes,
		Active:      true,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidateTargetURL enforces the endpoint URL invariant.
func ValidateTargetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return dErrors.New(dErrors.CodeValidation, "target URL must be an absolute http(s) URL")
	}
	return nil
}

// SubscribesTo reports whether the subscription's event-type set contains t.
func (s *Subscription) SubscribesTo(t EventType) bool {
	for _, et := range s.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Deactivate marks the subscription inactive. In-flight delivery records are
// exhausted by the scheduler on their next due scan.
func (s *Subscription) Deactivate(now time.Time) {
	s.Active = false
	s.UpdatedAt = now
}
