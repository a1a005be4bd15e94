package handler

import (
	"encoding/json"
	"time"

	"incentra/internal/webhook/models"
	"incentra/internal/webhook/secrets"
)

// SubscriptionResponse is the HTTP shape of a subscription. Secret carries
// the full value exactly once, on create and rotate; every other read gets
// the redacted form.
type SubscriptionResponse struct {
	ID          string                 `json:"id"`
	URL         string                 `json:"url"`
	Secret      string                 `json:"secret"`
	EventTypes  []models.EventType     `json:"event_types"`
	Filters     *models.FilterCriteria `json:"filters,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
	Active      bool                   `json:"active"`
	MaxAttempts int                    `json:"max_attempts"`

	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt   *time.Time `json:"last_failure_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromSubscription converts a subscription to its redacted HTTP shape.
func FromSubscription(sub *models.Subscription) *SubscriptionResponse {
	return fromSubscription(sub, secrets.Redact(sub.Secret))
}

// FromSubscriptionWithSecret converts a subscription exposing the full
// secret. Only create and rotate responses use this.
func FromSubscriptionWithSecret(sub *models.Subscription, secret string) *SubscriptionResponse {
	return fromSubscription(sub, secret)
}

func fromSubscription(sub *models.Subscription, secret string) *SubscriptionResponse {
	return &SubscriptionResponse{
		ID:              sub.ID.String(),
		URL:             sub.URL,
		Secret:          secret,
		EventTypes:      sub.EventTypes,
		Filters:         sub.Filters,
		Headers:         sub.Headers,
		Active:          sub.Active,
		MaxAttempts:     sub.MaxAttempts,
		LastTriggeredAt: sub.LastTriggeredAt,
		LastSuccessAt:   sub.LastSuccessAt,
		LastFailureAt:   sub.LastFailureAt,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.UpdatedAt,
	}
}

// SubscriptionListResponse wraps a subscription collection.
type SubscriptionListResponse struct {
	Subscriptions []*SubscriptionResponse `json:"subscriptions"`
}

// FromSubscriptions converts a subscription slice to its HTTP shape.
func FromSubscriptions(subs []*models.Subscription) *SubscriptionListResponse {
	out := make([]*SubscriptionResponse, len(subs))
	for i, sub := range subs {
		out[i] = FromSubscription(sub)
	}
	return &SubscriptionListResponse{Subscriptions: out}
}

// DeliveryResponse is the HTTP shape of one delivery record.
type DeliveryResponse struct {
	EventID        string `json:"event_id"`
	SubscriptionID string `json:"subscription_id"`
	EventType      string `json:"event_type"`

	ProjectID     string `json:"project_id,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
	ProgramID     string `json:"program_id,omitempty"`

	Envelope    json.RawMessage `json:"envelope"`
	PayloadHash string          `json:"payload_hash"`
	TargetURL   string          `json:"target_url"`

	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	MaxAttempts  int    `json:"max_attempts"`

	ScheduledAt   time.Time  `json:"scheduled_at"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	ResponseStatus *int   `json:"response_status,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	LatencyMS      int64  `json:"latency_ms,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromDelivery converts a delivery record to its HTTP shape.
func FromDelivery(rec *models.DeliveryRecord) *DeliveryResponse {
	return &DeliveryResponse{
		EventID:        rec.EventID,
		SubscriptionID: rec.SubscriptionID.String(),
		EventType:      string(rec.EventType),
		ProjectID:      rec.ProjectID,
		ApplicationID:  rec.ApplicationID,
		ProgramID:      rec.ProgramID,
		Envelope:       rec.Envelope,
		PayloadHash:    rec.PayloadHash,
		TargetURL:      rec.TargetURL,
		Status:         string(rec.Status),
		AttemptCount:   rec.AttemptCount,
		MaxAttempts:    rec.MaxAttempts,
		ScheduledAt:    rec.ScheduledAt,
		NextRetryAt:    rec.NextRetryAt,
		LastAttemptAt:  rec.LastAttemptAt,
		ResponseStatus: rec.ResponseStatus,
		ResponseBody:   rec.ResponseBody,
		LatencyMS:      rec.LatencyMS,
		ErrorMessage:   rec.ErrorMessage,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// DeliveryListResponse wraps a delivery record collection.
type DeliveryListResponse struct {
	Deliveries []*DeliveryResponse `json:"deliveries"`
}

// FromDeliveries converts a delivery record slice to its HTTP shape.
func FromDeliveries(recs []*models.DeliveryRecord) *DeliveryListResponse {
	out := make([]*DeliveryResponse, len(recs))
	for i, rec := range recs {
		out[i] = FromDelivery(rec)
	}
	return &DeliveryListResponse{Deliveries: out}
}
