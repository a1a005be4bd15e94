// Package service orchestrates webhook dispatch: subscription management,
// envelope fan-out, delivery attempts, and the retry scheduler.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"incentra/internal/audit"
	"incentra/internal/platform/config"
	"incentra/internal/webhook/metrics"
	"incentra/internal/webhook/models"
	id "incentra/pkg/domain"
	"incentra/pkg/requestcontext"
)

// SubscriptionStore persists webhook subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *models.Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*models.Subscription, error)
	ListByOrg(ctx context.Context, orgID id.OrgID) ([]*models.Subscription, error)
	ListActiveForEvent(ctx context.Context, orgID id.OrgID, eventType models.EventType) ([]*models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
	TouchTriggered(ctx context.Context, subID id.SubscriptionID, at time.Time) error
	TouchDelivery(ctx context.Context, subID id.SubscriptionID, success bool, at time.Time) error
}

// DeliveryStore persists per-subscriber delivery records and their retry
// bookkeeping.
type DeliveryStore interface {
	Create(ctx context.Context, rec *models.DeliveryRecord) error
	Get(ctx context.Context, eventID string, subID id.SubscriptionID) (*models.DeliveryRecord, error)
	MarkSending(ctx context.Context, eventID string, subID id.SubscriptionID, now time.Time) error
	RecordOutcome(ctx context.Context, eventID string, subID id.SubscriptionID, outcome *models.AttemptOutcome, next models.DeliveryStatus, nextRetryAt *time.Time) error
	MarkExhausted(ctx context.Context, eventID string, subID id.SubscriptionID, reason string, now time.Time) error
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryRecord, error)
	Replay(ctx context.Context, eventID string, subID id.SubscriptionID, maxAttempts int, now time.Time) (*models.DeliveryRecord, error)
	ListByEvent(ctx context.Context, orgID id.OrgID, eventID string) ([]*models.DeliveryRecord, error)
	ListBySubscription(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID, limit int) ([]*models.DeliveryRecord, error)
}

// Lease serializes scheduler runs across process instances. Acquire returns
// ok=false when another holder owns the lease; release is a no-op after the
// TTL expires.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// AuditPublisher records subscription lifecycle and delivery terminal events.
type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service orchestrates webhook subscriptions and delivery.
type Service struct {
	subscriptions  SubscriptionStore
	deliveries     DeliveryStore
	lease          Lease
	cfg            config.Webhook
	httpClient     *http.Client
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithHTTPClient overrides the outbound delivery client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.httpClient = client
	}
}

// WithLease installs a cross-instance scheduler lease. Without one, scheduler
// runs are serialized only within the process.
func WithLease(lease Lease) Option {
	return func(s *Service) {
		s.lease = lease
	}
}

// New constructs a Service.
func New(subscriptions SubscriptionStore, deliveries DeliveryStore, cfg config.Webhook, opts ...Option) *Service {
	s := &Service{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		cfg:           cfg,
		httpClient: &http.Client{
			// A redirect is not a delivery; subscribers must answer 2xx at
			// the registered URL.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logAudit(ctx context.Context, action audit.AuditEvent, orgID id.OrgID, subject string, attributes ...any) {
	args := append(attributes, "event", string(action), "log_type", "audit")
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, string(action), args...)

	if s.auditPublisher == nil {
		return
	}
	var actor string
	if actorID := requestcontext.ActorID(ctx); !actorID.IsNil() {
		actor = actorID.String()
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		OrgID:     orgID.String(),
		ActorID:   actor,
		Subject:   subject,
		Action:    string(action),
		RequestID: requestcontext.RequestID(ctx),
	})
}
