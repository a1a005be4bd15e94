package subscription

import (
	"context"
	"sync"
	"time"

	"incentra/internal/webhook/models"
	id "incentra/pkg/domain"
	"incentra/pkg/platform/sentinel"
)

// InMemory is a map-backed subscription store for tests and development.
type InMemory struct {
	mu   sync.RWMutex
	subs map[id.SubscriptionID]*models.Subscription
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[id.SubscriptionID]*models.Subscription)}
}

func (s *InMemory) Create(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *InMemory) Get(_ context.Context, subID id.SubscriptionID) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subs[subID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *InMemory) ListByOrg(_ context.Context, orgID id.OrgID) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Subscription
	for _, sub := range s.subs {
		if sub.OrgID == orgID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListActiveForEvent implements the containment query: active subscriptions
// for the org whose subscribed-event set includes eventType.
func (s *InMemory) ListActiveForEvent(_ context.Context, orgID id.OrgID, eventType models.EventType) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Subscription
	for _, sub := range s.subs {
		if sub.OrgID == orgID && sub.Active && sub.SubscribesTo(eventType) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemory) Update(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; !exists {
		return sentinel.ErrNotFound
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

// TouchTriggered records that a dispatch selected this subscription.
func (s *InMemory) TouchTriggered(_ context.Context, subID id.SubscriptionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[subID]
	if !exists {
		return sentinel.ErrNotFound
	}
	t := at
	sub.LastTriggeredAt = &t
	sub.UpdatedAt = at
	return nil
}

// TouchDelivery records the outcome timestamp of a delivery attempt.
func (s *InMemory) TouchDelivery(_ context.Context, subID id.SubscriptionID, success bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[subID]
	if !exists {
		return sentinel.ErrNotFound
	}
	t := at
	if success {
		sub.LastSuccessAt = &t
	} else {
		sub.LastFailureAt = &t
	}
	sub.UpdatedAt = at
	return nil
}
