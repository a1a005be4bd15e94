package service

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"incentra/internal/webhook/filter"
	"incentra/internal/webhook/models"
	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
	"incentra/pkg/requestcontext"
)

// DispatchResult summarizes one dispatch: how many subscriptions matched and
// where the immediate attempts landed.
type DispatchResult struct {
	EventID   string `json:"event_id"`
	Matched   int    `json:"matched"`
	Delivered int    `json:"delivered"`
	Retrying  int    `json:"retrying"`
	Exhausted int    `json:"exhausted"`
	// Errors lists subscribers no delivery record could be snapshotted for.
	// A failed subscriber never blocks the rest of the fan-out.
	Errors []DispatchError `json:"errors,omitempty"`
}

// DispatchError is one per-subscriber record-creation failure.
type DispatchError struct {
	SubscriptionID string `json:"subscription_id"`
	Error          string `json:"error"`
}

// Dispatch formats one domain event, resolves its recipients, snapshots a
// delivery record per recipient, and runs the immediate delivery attempts.
//
// The envelope is serialized exactly once; every recipient and every retry
// reuses those bytes. Recipients are isolated from each other: one slow or
// failing endpoint never affects the rest of the fan-out. A failed immediate
// attempt lands in retrying (or exhausted) for the scheduler; Dispatch itself
// only errors on validation or persistence failures.
func (s *Service) Dispatch(ctx context.Context, orgID id.OrgID, eventType models.EventType, data map[string]any) (*DispatchResult, error) {
	now := requestcontext.Now(ctx)

	meta := &models.Metadata{
		ActorEmail:  requestcontext.ActorEmail(ctx),
		SourceIP:    requestcontext.ClientIP(ctx),
		TriggerMode: requestcontext.TriggerMode(ctx),
	}
	if actorID := requestcontext.ActorID(ctx); !actorID.IsNil() {
		meta.ActorID = actorID.String()
	}

	env, err := models.NewEnvelope(eventType, data, orgID, now, meta)
	if err != nil {
		return nil, err
	}

	subs, err := s.subscriptions.ListActiveForEvent(ctx, orgID, eventType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve subscriptions")
	}

	matched := subs[:0]
	for _, sub := range subs {
		if filter.Matches(env.Data, sub.Filters) {
			matched = append(matched, sub)
		}
	}

	s.metrics.IncrementDispatched(string(eventType))
	result := &DispatchResult{EventID: env.ID, Matched: len(matched)}
	if len(matched) == 0 {
		s.logger.DebugContext(ctx, "dispatch matched no subscriptions",
			"event_id", env.ID, "event_type", eventType)
		return result, nil
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize envelope")
	}

	records := make([]*models.DeliveryRecord, 0, len(matched))
	targets := make([]*models.Subscription, 0, len(matched))
	for _, sub := range matched {
		rec := models.NewDeliveryRecord(env, raw, sub, now)
		if err := s.deliveries.Create(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "failed to create delivery record",
				"event_id", env.ID, "subscription_id", sub.ID, "error", err)
			result.Errors = append(result.Errors, DispatchError{
				SubscriptionID: sub.ID.String(),
				Error:          err.Error(),
			})
			continue
		}
		if err := s.subscriptions.TouchTriggered(ctx, sub.ID, now); err != nil {
			s.logger.WarnContext(ctx, "failed to touch subscription trigger time",
				"subscription_id", sub.ID, "error", err)
		}
		records = append(records, rec)
		targets = append(targets, sub)
	}
	s.metrics.AddRecordsCreated(string(eventType), len(records))

	s.fanOut(ctx, records, targets, result)

	s.logger.InfoContext(ctx, "event dispatched",
		"event_id", env.ID, "event_type", eventType,
		"matched", result.Matched, "delivered", result.Delivered,
		"retrying", result.Retrying, "exhausted", result.Exhausted,
		"errors", len(result.Errors))
	return result, nil
}

// SendTest dispatches a webhook.test event to exactly one subscription,
// bypassing event-type and filter matching.
func (s *Service) SendTest(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID) (*DispatchResult, error) {
	sub, err := s.GetSubscription(ctx, orgID, subID)
	if err != nil {
		return nil, err
	}
	if !sub.Active {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot send a test event to an inactive subscription")
	}

	now := requestcontext.Now(ctx)
	meta := &models.Metadata{
		ActorEmail:  requestcontext.ActorEmail(ctx),
		SourceIP:    requestcontext.ClientIP(ctx),
		TriggerMode: "test",
	}
	if actorID := requestcontext.ActorID(ctx); !actorID.IsNil() {
		meta.ActorID = actorID.String()
	}

	data := map[string]any{
		"message":         "Incentra webhook test event",
		"subscription_id": sub.ID.String(),
	}
	env, err := models.NewEnvelope(models.EventWebhookTest, data, orgID, now, meta)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize envelope")
	}

	rec := models.NewDeliveryRecord(env, raw, sub, now)
	if err := s.deliveries.Create(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create delivery record")
	}

	result := &DispatchResult{EventID: env.ID, Matched: 1}
	s.fanOut(ctx, []*models.DeliveryRecord{rec}, []*models.Subscription{sub}, result)
	return result, nil
}

// fanOut runs immediate attempts for freshly created records with bounded
// concurrency, tallying outcomes into result.
func (s *Service) fanOut(ctx context.Context, records []*models.DeliveryRecord, subs []*models.Subscription, result *DispatchResult) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanoutLimit())
	for i := range records {
		rec, sub := records[i], subs[i]
		g.Go(func() error {
			if err := s.deliveries.MarkSending(gctx, rec.EventID, rec.SubscriptionID, rec.ScheduledAt); err != nil {
				s.logger.WarnContext(gctx, "failed to claim delivery record",
					"event_id", rec.EventID, "subscription_id", rec.SubscriptionID, "error", err)
				return nil
			}
			status, err := s.attempt(gctx, rec, sub)
			if err != nil {
				s.logger.ErrorContext(gctx, "delivery attempt failed to record",
					"event_id", rec.EventID, "subscription_id", rec.SubscriptionID, "error", err)
				return nil
			}
			mu.Lock()
			switch status {
			case models.StatusDelivered:
				result.Delivered++
			case models.StatusRetrying:
				result.Retrying++
			case models.StatusExhausted:
				result.Exhausted++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) fanoutLimit() int {
	if s.cfg.FanoutConcurrency > 0 {
		return s.cfg.FanoutConcurrency
	}
	return 8
}
