package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"incentra/internal/webhook/models"
	dErrors "incentra/pkg/domain-errors"
	"incentra/pkg/platform/sentinel"
	"incentra/pkg/requestcontext"
)

const schedulerLeaseName = "incentra:webhook:retry-scheduler"

// RetryResult summarizes one scheduler pass.
type RetryResult struct {
	// Skipped is true when another instance held the run lease.
	Skipped   bool `json:"skipped"`
	Processed int  `json:"processed"`
	Delivered int  `json:"delivered"`
	Retrying  int  `json:"retrying"`
	Exhausted int  `json:"exhausted"`
}

// ProcessRetries claims one batch of due delivery records and re-attempts
// them. Runs are serialized by the lease; every record is individually
// re-claimed via the store's conditional status update, so an overlapping run
// that slipped past the lease still cannot double-attempt a record.
//
// Records whose subscription has been deactivated or removed are exhausted
// without an attempt.
func (s *Service) ProcessRetries(ctx context.Context) (*RetryResult, error) {
	result := &RetryResult{}

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx, schedulerLeaseName, s.leaseTTL())
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to acquire scheduler lease")
		}
		if !ok {
			s.logger.DebugContext(ctx, "retry scheduler lease held elsewhere, skipping")
			result.Skipped = true
			return result, nil
		}
		defer release()
	}

	now := requestcontext.Now(ctx)
	due, err := s.deliveries.DueForRetry(ctx, now, s.retryBatchSize())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query due deliveries")
	}
	s.metrics.ObserveRetryBatch(len(due))
	s.metrics.SetRetryBacklog(len(due))
	if len(due) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanoutLimit())
	for _, rec := range due {
		g.Go(func() error {
			status, processed := s.processDue(gctx, rec, now)
			if !processed {
				return nil
			}
			mu.Lock()
			result.Processed++
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

	s.logger.InfoContext(ctx, "retry batch processed",
		"due", len(due), "processed", result.Processed,
		"delivered", result.Delivered, "retrying", result.Retrying,
		"exhausted", result.Exhausted)
	return result, nil
}

// processDue re-attempts one due record. processed=false means the record was
// skipped (claimed elsewhere, or a store error prevented handling it).
func (s *Service) processDue(ctx context.Context, rec *models.DeliveryRecord, now time.Time) (models.DeliveryStatus, bool) {
	sub, err := s.subscriptions.Get(ctx, rec.SubscriptionID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to load subscription for retry",
			"event_id", rec.EventID, "subscription_id", rec.SubscriptionID, "error", err)
		return "", false
	}
	if sub == nil || !sub.Active {
		if err := s.deliveries.MarkExhausted(ctx, rec.EventID, rec.SubscriptionID, "subscription deactivated", now); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return "", false
			}
			s.logger.ErrorContext(ctx, "failed to exhaust orphaned delivery",
				"event_id", rec.EventID, "subscription_id", rec.SubscriptionID, "error", err)
			return "", false
		}
		s.metrics.IncrementOutcome(string(models.StatusExhausted))
		return models.StatusExhausted, true
	}

	if err := s.deliveries.MarkSending(ctx, rec.EventID, rec.SubscriptionID, now); err != nil {
		// ErrInvalidState means another worker got there first.
		if !errors.Is(err, sentinel.ErrInvalidState) {
			s.logger.ErrorContext(ctx, "failed to claim due delivery",
				"event_id", rec.EventID, "subscription_id", rec.SubscriptionID, "error", err)
		}
		return "", false
	}

	status, err := s.attempt(ctx, rec, sub)
	if err != nil {
		s.logger.ErrorContext(ctx, "retry attempt failed to record",
			"event_id", rec.EventID, "subscription_id", rec.SubscriptionID, "error", err)
		return "", false
	}
	return status, true
}

// RunScheduler drives ProcessRetries on a ticker until ctx is cancelled. Used
// when the deployment has no external cron calling the retry endpoint.
func (s *Service) RunScheduler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ProcessRetries(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduled retry pass failed", "error", err)
			}
		}
	}
}

func (s *Service) leaseTTL() time.Duration {
	if s.cfg.LeaseTTL > 0 {
		return s.cfg.LeaseTTL
	}
	return time.Minute
}

func (s *Service) retryBatchSize() int {
	if s.cfg.RetryBatchSize > 0 {
		return s.cfg.RetryBatchSize
	}
	return 100
}
