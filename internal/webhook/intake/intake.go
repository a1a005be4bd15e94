// Package intake consumes domain events from Kafka and feeds them into
// webhook dispatch. Producers elsewhere in Incentra publish to the
// domain-events topic; this is the asynchronous sibling of the internal
// dispatch endpoint.
package intake

import (
	"context"
	"encoding/json"
	"log/slog"

	"incentra/internal/platform/kafka/consumer"
	"incentra/internal/webhook/models"
	"incentra/internal/webhook/service"
	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
	"incentra/pkg/requestcontext"
)

// Dispatcher is the slice of the webhook service intake depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, orgID id.OrgID, eventType models.EventType, data map[string]any) (*service.DispatchResult, error)
}

// domainEvent is the wire shape producers publish to the topic.
type domainEvent struct {
	EventType      string         `json:"event_type"`
	OrganizationID string         `json:"organization_id"`
	Data           map[string]any `json:"data"`
	ActorEmail     string         `json:"actor_email,omitempty"`
}

// Handler turns Kafka records into dispatches. Malformed or invalid messages
// are logged and committed: redelivery cannot fix them, and delivery records
// are the durability boundary, not the broker.
type Handler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewHandler constructs an intake handler.
func NewHandler(dispatcher Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// Handle implements consumer.Handler.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	var event domainEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed domain event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"error", err)
		return nil
	}

	orgID, err := id.ParseOrgID(event.OrganizationID)
	if err != nil {
		h.logger.ErrorContext(ctx, "dropping domain event without valid organization",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}

	ctx = requestcontext.WithTriggerMode(ctx, "kafka")
	result, err := h.dispatcher.Dispatch(ctx, orgID, models.EventType(event.EventType), event.Data)
	if err != nil {
		// Validation failures are terminal for the message; infrastructure
		// failures leave it uncommitted for redelivery.
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) || dErrors.HasCode(err, dErrors.CodeValidation) {
			h.logger.ErrorContext(ctx, "dropping undispatchable domain event",
				"event_type", event.EventType, "offset", msg.Offset, "error", err)
			return nil
		}
		return err
	}

	h.logger.DebugContext(ctx, "domain event dispatched from kafka",
		"event_id", result.EventID, "event_type", event.EventType,
		"matched", result.Matched)
	return nil
}
