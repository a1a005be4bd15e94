package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	id "incentra/pkg/domain"
)

// DeliveryStatus is the lifecycle state of one delivery record.
//
// pending → sending → delivered
//                   ↘ retrying → sending (loop) → delivered | exhausted
//
// A failed attempt lands directly in retrying (with a due time) when attempts
// remain, or exhausted when the budget is spent, so the polling scheduler
// always picks up immediate-dispatch failures too. delivered and exhausted
// are terminal for the state machine; only an operator replay may revive an
// exhausted record.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSending   DeliveryStatus = "sending"
	StatusRetrying  DeliveryStatus = "retrying"
	StatusDelivered DeliveryStatus = "delivered"
	StatusExhausted DeliveryStatus = "exhausted"
)

var transitions = map[DeliveryStatus][]DeliveryStatus{
	StatusPending:  {StatusSending},
	StatusSending:  {StatusDelivered, StatusRetrying, StatusExhausted},
	StatusRetrying: {StatusSending, StatusExhausted},
}

// Terminal reports whether no further automatic transition is allowed.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusExhausted
}

// CanTransitionTo reports whether the state machine allows s → next.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AttemptOutcome captures the observable result of one delivery attempt.
type AttemptOutcome struct {
	Success         bool
	ResponseStatus  int               // 0 when no HTTP response was received
	ResponseHeaders map[string]string // subset worth keeping, not the full set
	ResponseBody    string            // bounded prefix
	Latency         time.Duration
	ErrorMessage    string // empty on success
	AttemptedAt     time.Time
}

// DeliveryRecord is the per-subscriber, per-event unit of delivery state and
// retry bookkeeping. The envelope bytes are snapshotted at creation and the
// target URL is frozen so later subscription edits never change in-flight
// behavior.
type DeliveryRecord struct {
	EventID        string            `json:"event_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	OrgID          id.OrgID          `json:"organization_id"`
	EventType      EventType         `json:"event_type"`

	// Denormalized correlation ids for querying; empty when the event
	// carries no such field.
	ProjectID     string `json:"project_id,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
	ProgramID     string `json:"program_id,omitempty"`

	Envelope    json.RawMessage `json:"envelope"`
	PayloadHash string          `json:"payload_hash"`
	TargetURL   string          `json:"target_url"`

	Status       DeliveryStatus `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	MaxAttempts  int            `json:"max_attempts"`

	ScheduledAt   time.Time  `json:"scheduled_at"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	ResponseStatus  *int              `json:"response_status,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	LatencyMS       int64             `json:"latency_ms,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDeliveryRecord snapshots one fan-out unit: the serialized envelope, its
// content hash, and the subscription's current target URL.
func NewDeliveryRecord(env *Envelope, rawEnvelope []byte, sub *Subscription, now time.Time) *DeliveryRecord {
	sum := sha256.Sum256(rawEnvelope)
	return &DeliveryRecord{
		EventID:        env.ID,
		SubscriptionID: sub.ID,
		OrgID:          env.OrganizationID,
		EventType:      env.Event,
		ProjectID:      stringField(env.Data, "project_id"),
		ApplicationID:  stringField(env.Data, "application_id"),
		ProgramID:      stringField(env.Data, "program_id"),
		Envelope:       rawEnvelope,
		PayloadHash:    hex.EncodeToString(sum[:]),
		TargetURL:      sub.URL,
		Status:         StatusPending,
		MaxAttempts:    sub.MaxAttempts,
		ScheduledAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
