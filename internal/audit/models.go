package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	OrgID     string
	ActorID   string
	Subject   string
	Action    string
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	EventSubscriptionCreated     AuditEvent = "webhook_subscription_created"
	EventSubscriptionUpdated     AuditEvent = "webhook_subscription_updated"
	EventSubscriptionDeactivated AuditEvent = "webhook_subscription_deactivated"
	EventSecretRotated           AuditEvent = "webhook_secret_rotated"
	EventDeliveryExhausted       AuditEvent = "webhook_delivery_exhausted"
	EventDeliveryReplayed        AuditEvent = "webhook_delivery_replayed"
)
