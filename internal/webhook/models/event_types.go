package models

// EventType names a domain event the platform can notify subscribers about.
type EventType string

// The closed set of event types. Producers elsewhere in the platform may only
// dispatch these; subscriptions may only subscribe to these.
const (
	EventProjectCreated       EventType = "project.created"
	EventProjectUpdated       EventType = "project.updated"
	EventProjectDeleted       EventType = "project.deleted"
	EventProjectStatusChanged EventType = "project.status_changed"
	EventProjectArchived      EventType = "project.archived"

	EventEligibilityScanCompleted EventType = "eligibility.scan_completed"
	EventEligibilityNewMatch      EventType = "eligibility.new_match"
	EventEligibilityMatchUpdated  EventType = "eligibility.match_updated"
	EventEligibilityMatchExpired  EventType = "eligibility.match_expired"

	EventApplicationCreated       EventType = "application.created"
	EventApplicationSubmitted     EventType = "application.submitted"
	EventApplicationStatusChanged EventType = "application.status_changed"
	EventApplicationApproved      EventType = "application.approved"
	EventApplicationRejected      EventType = "application.rejected"
	EventApplicationDocumentAdded EventType = "application.document_added"

	EventDeadlineApproaching EventType = "deadline.approaching"
	EventDeadlineToday       EventType = "deadline.today"
	EventDeadlinePassed      EventType = "deadline.passed"

	EventProgramNewAvailable EventType = "program.new_available"
	EventProgramUpdated      EventType = "program.updated"
	EventProgramExpiring     EventType = "program.expiring"
	EventProgramExpired      EventType = "program.expired"

	EventDocumentUploaded    EventType = "document.uploaded"
	EventDocumentProcessed   EventType = "document.processed"
	EventDocumentAIExtracted EventType = "document.ai_extracted"

	EventCostEstimateGenerated EventType = "cost_estimate.generated"
	EventCostEstimateUpdated   EventType = "cost_estimate.updated"

	EventIntegrationConnected     EventType = "integration.connected"
	EventIntegrationDisconnected  EventType = "integration.disconnected"
	EventIntegrationSyncCompleted EventType = "integration.sync_completed"
	EventIntegrationSyncFailed    EventType = "integration.sync_failed"

	EventWebhookTest EventType = "webhook.test"
)

var knownEventTypes = map[EventType]struct{}{
	EventProjectCreated:       {},
	EventProjectUpdated:       {},
	EventProjectDeleted:       {},
	EventProjectStatusChanged: {},
	EventProjectArchived:      {},

	EventEligibilityScanCompleted: {},
	EventEligibilityNewMatch:      {},
	EventEligibilityMatchUpdated:  {},
	EventEligibilityMatchExpired:  {},

	EventApplicationCreated:       {},
	EventApplicationSubmitted:     {},
	EventApplicationStatusChanged: {},
	EventApplicationApproved:      {},
	EventApplicationRejected:      {},
	EventApplicationDocumentAdded: {},

	EventDeadlineApproaching: {},
	EventDeadlineToday:       {},
	EventDeadlinePassed:      {},

	EventProgramNewAvailable: {},
	EventProgramUpdated:      {},
	EventProgramExpiring:     {},
	EventProgramExpired:      {},

	EventDocumentUploaded:    {},
	EventDocumentProcessed:   {},
	EventDocumentAIExtracted: {},

	EventCostEstimateGenerated: {},
	EventCostEstimateUpdated:   {},

	EventIntegrationConnected:     {},
	EventIntegrationDisconnected:  {},
	EventIntegrationSyncCompleted: {},
	EventIntegrationSyncFailed:    {},

	EventWebhookTest: {},
}

// IsValid reports whether t is part of the closed event-type set.
func (t EventType) IsValid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

func (t EventType) String() string { return string(t) }
