package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"incentra/internal/webhook/models"
	id "incentra/pkg/domain"
	"incentra/pkg/platform/sentinel"
)

type recordKey struct {
	eventID string
	subID   id.SubscriptionID
}

// InMemory is a map-backed delivery store for tests and development. It
// enforces the same status transition rules as the PostgreSQL store so the
// scheduler behaves identically against either.
type InMemory struct {
	mu      sync.RWMutex
	records map[recordKey]*models.DeliveryRecord
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[recordKey]*models.DeliveryRecord)}
}

func (s *InMemory) Create(_ context.Context, rec *models.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{rec.EventID, rec.SubscriptionID}
	if _, exists := s.records[key]; exists {
		return sentinel.ErrConflict
	}
	cp := *rec
	s.records[key] = &cp
	return nil
}

func (s *InMemory) Get(_ context.Context, eventID string, subID id.SubscriptionID) (*models.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[recordKey{eventID, subID}]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// MarkSending claims a record for an attempt. The claim is conditional on the
// current status being pending or retrying; a record already claimed by
// another worker, or already terminal, yields sentinel.ErrInvalidState.
func (s *InMemory) MarkSending(_ context.Context, eventID string, subID id.SubscriptionID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[recordKey{eventID, subID}]
	if !exists {
		return sentinel.ErrNotFound
	}
	if !rec.Status.CanTransitionTo(models.StatusSending) {
		return sentinel.ErrInvalidState
	}
	rec.Status = models.StatusSending
	rec.UpdatedAt = now
	return nil
}

// RecordOutcome writes the result of one attempt atomically: attempt count,
// response metadata, the next status, and the next due time when retrying.
func (s *InMemory) RecordOutcome(_ context.Context, eventID string, subID id.SubscriptionID, outcome *models.AttemptOutcome, next models.DeliveryStatus, nextRetryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[recordKey{eventID, subID}]
	if !exists {
		return sentinel.ErrNotFound
	}
	if !rec.Status.CanTransitionTo(next) {
		return sentinel.ErrInvalidState
	}

	rec.Status = next
	rec.AttemptCount++
	attempted := outcome.AttemptedAt
	rec.LastAttemptAt = &attempted
	rec.NextRetryAt = nextRetryAt
	if outcome.ResponseStatus != 0 {
		status := outcome.ResponseStatus
		rec.ResponseStatus = &status
	} else {
		rec.ResponseStatus = nil
	}
	rec.ResponseHeaders = outcome.ResponseHeaders
	rec.ResponseBody = outcome.ResponseBody
	rec.LatencyMS = outcome.Latency.Milliseconds()
	rec.ErrorMessage = outcome.ErrorMessage
	rec.UpdatedAt = outcome.AttemptedAt
	return nil
}

// MarkExhausted terminates a record without an attempt, used when its
// subscription has been deactivated.
func (s *InMemory) MarkExhausted(_ context.Context, eventID string, subID id.SubscriptionID, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[recordKey{eventID, subID}]
	if !exists {
		return sentinel.ErrNotFound
	}
	if rec.Status.Terminal() {
		return sentinel.ErrInvalidState
	}
	rec.Status = models.StatusExhausted
	rec.ErrorMessage = reason
	rec.NextRetryAt = nil
	rec.UpdatedAt = now
	return nil
}

// DueForRetry returns up to limit records in retrying status whose due time
// has passed, oldest due first.
func (s *InMemory) DueForRetry(_ context.Context, now time.Time, limit int) ([]*models.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.DeliveryRecord
	for _, rec := range s.records {
		if rec.Status == models.StatusRetrying && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(*out[j].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Replay resets an exhausted record to retrying with a fresh attempt budget.
// Only exhausted records may be replayed.
func (s *InMemory) Replay(_ context.Context, eventID string, subID id.SubscriptionID, maxAttempts int, now time.Time) (*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[recordKey{eventID, subID}]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	if rec.Status != models.StatusExhausted {
		return nil, sentinel.ErrInvalidState
	}
	rec.Status = models.StatusRetrying
	rec.MaxAttempts = rec.AttemptCount + maxAttempts
	due := now
	rec.NextRetryAt = &due
	rec.ErrorMessage = ""
	rec.UpdatedAt = now
	cp := *rec
	return &cp, nil
}

// ListByEvent returns every record fanned out for one event.
func (s *InMemory) ListByEvent(_ context.Context, orgID id.OrgID, eventID string) ([]*models.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.DeliveryRecord
	for _, rec := range s.records {
		if rec.OrgID == orgID && rec.EventID == eventID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortByCreated(out)
	return out, nil
}

// ListBySubscription returns recent records for a subscription, newest first.
func (s *InMemory) ListBySubscription(_ context.Context, orgID id.OrgID, subID id.SubscriptionID, limit int) ([]*models.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.DeliveryRecord
	for _, rec := range s.records {
		if rec.OrgID == orgID && rec.SubscriptionID == subID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByCreated(recs []*models.DeliveryRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
