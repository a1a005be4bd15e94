package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"incentra/internal/audit"
	"incentra/internal/webhook/backoff"
	"incentra/internal/webhook/models"
	"incentra/internal/webhook/signature"
)

// Protocol headers on outbound deliveries. These always win over any
// caller-configured custom header of the same name.
const (
	HeaderSignature = "X-Incentra-Signature"
	HeaderEvent     = "X-Incentra-Event"
	HeaderDelivery  = "X-Incentra-Delivery"

	userAgent = "Incentra-Webhook/1.0"

	// maxResponseBody bounds how much of a subscriber's response is kept on
	// the delivery record.
	maxResponseBody = 4 << 10
)

var tracer = otel.Tracer("incentra/webhook")

// attempt performs one delivery attempt for a claimed record and persists the
// outcome before returning the resulting status. The caller must have claimed
// the record via MarkSending.
func (s *Service) attempt(ctx context.Context, rec *models.DeliveryRecord, sub *models.Subscription) (models.DeliveryStatus, error) {
	attemptNumber := rec.AttemptCount + 1

	ctx, span := tracer.Start(ctx, "webhook.deliver", trace.WithAttributes(
		attribute.String("webhook.event_id", rec.EventID),
		attribute.String("webhook.event_type", string(rec.EventType)),
		attribute.String("webhook.subscription_id", rec.SubscriptionID.String()),
		attribute.Int("webhook.attempt", attemptNumber),
	))
	defer span.End()

	outcome := s.send(ctx, rec, sub)
	s.metrics.ObserveAttemptLatency(outcome.Latency)
	span.SetAttributes(
		attribute.Bool("webhook.success", outcome.Success),
		attribute.Int("webhook.response_status", outcome.ResponseStatus),
	)

	var (
		next        models.DeliveryStatus
		nextRetryAt *time.Time
	)
	switch {
	case outcome.Success:
		next = models.StatusDelivered
	case attemptNumber >= rec.MaxAttempts:
		next = models.StatusExhausted
	default:
		// rec.AttemptCount counts completed attempts before this one, so the
		// first failure schedules the base delay.
		due := outcome.AttemptedAt.Add(backoff.NextDelay(rec.AttemptCount))
		next = models.StatusRetrying
		nextRetryAt = &due
	}

	if err := s.deliveries.RecordOutcome(ctx, rec.EventID, rec.SubscriptionID, outcome, next, nextRetryAt); err != nil {
		return "", err
	}
	if err := s.subscriptions.TouchDelivery(ctx, rec.SubscriptionID, outcome.Success, outcome.AttemptedAt); err != nil {
		s.logger.WarnContext(ctx, "failed to touch subscription delivery time",
			"subscription_id", rec.SubscriptionID, "error", err)
	}

	s.metrics.IncrementOutcome(string(next))
	switch next {
	case models.StatusDelivered:
		s.logger.InfoContext(ctx, "webhook delivered",
			"event_id", rec.EventID, "subscription_id", rec.SubscriptionID,
			"attempt", attemptNumber, "latency_ms", outcome.Latency.Milliseconds())
	case models.StatusRetrying:
		s.logger.WarnContext(ctx, "webhook delivery failed, will retry",
			"event_id", rec.EventID, "subscription_id", rec.SubscriptionID,
			"attempt", attemptNumber, "max_attempts", rec.MaxAttempts,
			"next_retry_at", nextRetryAt, "error", outcome.ErrorMessage)
	case models.StatusExhausted:
		s.logger.ErrorContext(ctx, "webhook delivery exhausted",
			"event_id", rec.EventID, "subscription_id", rec.SubscriptionID,
			"attempts", attemptNumber, "error", outcome.ErrorMessage)
		s.logAudit(ctx, audit.EventDeliveryExhausted, rec.OrgID, rec.EventID,
			"subscription_id", rec.SubscriptionID, "event_id", rec.EventID,
			"attempts", attemptNumber)
	}
	return next, nil
}

// send performs the HTTP round trip and classifies the result. It never
// returns an error; every failure mode is folded into the outcome.
func (s *Service) send(ctx context.Context, rec *models.DeliveryRecord, sub *models.Subscription) *models.AttemptOutcome {
	attemptedAt := time.Now()
	outcome := &models.AttemptOutcome{AttemptedAt: attemptedAt}

	ctx, cancel := context.WithTimeout(ctx, s.deliveryTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.TargetURL, bytes.NewReader(rec.Envelope))
	if err != nil {
		outcome.ErrorMessage = fmt.Sprintf("build request: %v", err)
		outcome.Latency = time.Since(attemptedAt)
		return outcome
	}

	// Custom headers first, then protocol headers so they cannot be shadowed.
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, signature.Sign(rec.Envelope, []byte(sub.Secret), attemptedAt))
	req.Header.Set(HeaderEvent, string(rec.EventType))
	req.Header.Set(HeaderDelivery, rec.EventID)

	resp, err := s.httpClient.Do(req)
	outcome.Latency = time.Since(attemptedAt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			outcome.ErrorMessage = fmt.Sprintf("timeout after %s", s.deliveryTimeout())
		} else {
			outcome.ErrorMessage = fmt.Sprintf("transport error: %v", err)
		}
		return outcome
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	outcome.ResponseStatus = resp.StatusCode
	outcome.ResponseBody = string(body)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		outcome.ResponseHeaders = map[string]string{"Content-Type": ct}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome.Success = true
	} else {
		outcome.ErrorMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return outcome
}

func (s *Service) deliveryTimeout() time.Duration {
	if s.cfg.DeliveryTimeout > 0 {
		return s.cfg.DeliveryTimeout
	}
	return 30 * time.Second
}
