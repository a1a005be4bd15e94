package service

import (
	"context"
	"errors"

	"incentra/internal/audit"
	"incentra/internal/webhook/models"
	"incentra/internal/webhook/secrets"
	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
	"incentra/pkg/platform/sentinel"
	"incentra/pkg/requestcontext"
)

// CreateSubscriptionParams carries caller-supplied subscription settings.
// MaxAttempts zero means "use the service default".
type CreateSubscriptionParams struct {
	URL         string
	EventTypes  []models.EventType
	Filters     *models.FilterCriteria
	Headers     map[string]string
	MaxAttempts int
}

// UpdateSubscriptionParams carries a partial update. Nil pointer fields are
// left unchanged; a non-nil Filters with no dimensions clears filtering.
type UpdateSubscriptionParams struct {
	URL         *string
	EventTypes  []models.EventType
	Filters     *models.FilterCriteria
	Headers     map[string]string
	Active      *bool
	MaxAttempts *int
}

// CreateSubscription registers a webhook endpoint and returns it along with
// the generated signing secret. The secret is returned exactly once; reads
// afterwards only see the redacted form.
func (s *Service) CreateSubscription(ctx context.Context, orgID id.OrgID, params CreateSubscriptionParams) (*models.Subscription, string, error) {
	maxAttempts := params.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}

	secret, err := secrets.Generate()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate signing secret")
	}

	sub, err := models.NewSubscription(orgID, params.URL, secret, params.EventTypes, maxAttempts, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, "", dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, "", err
	}
	sub.Filters = params.Filters
	sub.Headers = params.Headers

	if err := s.subscriptions.Create(ctx, sub); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, "", dErrors.New(dErrors.CodeConflict, "subscription already exists")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create subscription")
	}

	s.logAudit(ctx, audit.EventSubscriptionCreated, orgID, sub.ID.String(),
		"subscription_id", sub.ID, "url", sub.URL)
	return sub, secret, nil
}

// GetSubscription fetches one subscription within the caller's org scope.
func (s *Service) GetSubscription(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID) (*models.Subscription, error) {
	sub, err := s.subscriptions.Get(ctx, subID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subscription not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
	}
	// Cross-org reads look identical to missing rows.
	if sub.OrgID != orgID {
		return nil, dErrors.New(dErrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions for the org, active or not.
func (s *Service) ListSubscriptions(ctx context.Context, orgID id.OrgID) ([]*models.Subscription, error) {
	subs, err := s.subscriptions.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subscriptions")
	}
	return subs, nil
}

// UpdateSubscription applies a partial update and returns the updated
// subscription.
func (s *Service) UpdateSubscription(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID, params UpdateSubscriptionParams) (*models.Subscription, error) {
	sub, err := s.GetSubscription(ctx, orgID, subID)
	if err != nil {
		return nil, err
	}

	if params.URL != nil {
		if err := models.ValidateTargetURL(*params.URL); err != nil {
			return nil, err
		}
		sub.URL = *params.URL
	}
	if params.EventTypes != nil {
		if len(params.EventTypes) == 0 {
			return nil, dErrors.New(dErrors.CodeValidation, "subscription must name at least one event type")
		}
		for _, et := range params.EventTypes {
			if !et.IsValid() {
				return nil, dErrors.Newf(dErrors.CodeValidation, "unknown event type %q", et)
			}
		}
		sub.EventTypes = params.EventTypes
	}
	if params.Filters != nil {
		if params.Filters.IsEmpty() {
			sub.Filters = nil
		} else {
			sub.Filters = params.Filters
		}
	}
	if params.Headers != nil {
		sub.Headers = params.Headers
	}
	if params.Active != nil {
		sub.Active = *params.Active
	}
	if params.MaxAttempts != nil {
		if *params.MaxAttempts < models.MinAttempts || *params.MaxAttempts > models.MaxAttempts {
			return nil, dErrors.Newf(dErrors.CodeValidation, "max attempts must be between %d and %d", models.MinAttempts, models.MaxAttempts)
		}
		sub.MaxAttempts = *params.MaxAttempts
	}
	sub.UpdatedAt = requestcontext.Now(ctx)

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update subscription")
	}

	s.logAudit(ctx, audit.EventSubscriptionUpdated, orgID, sub.ID.String(),
		"subscription_id", sub.ID)
	return sub, nil
}

// DeactivateSubscription marks the subscription inactive. Records already in
// flight for it are exhausted by the scheduler on their next due scan;
// subscriptions are never deleted.
func (s *Service) DeactivateSubscription(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID) error {
	sub, err := s.GetSubscription(ctx, orgID, subID)
	if err != nil {
		return err
	}
	if !sub.Active {
		return nil
	}

	sub.Deactivate(requestcontext.Now(ctx))
	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate subscription")
	}

	s.logAudit(ctx, audit.EventSubscriptionDeactivated, orgID, sub.ID.String(),
		"subscription_id", sub.ID)
	return nil
}

// RotateSecret replaces the signing secret and returns the new one. The old
// secret stops signing immediately; subscribers must cut over on receipt.
func (s *Service) RotateSecret(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID) (*models.Subscription, string, error) {
	sub, err := s.GetSubscription(ctx, orgID, subID)
	if err != nil {
		return nil, "", err
	}

	secret, err := secrets.Generate()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate signing secret")
	}
	sub.Secret = secret
	sub.UpdatedAt = requestcontext.Now(ctx)

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to rotate signing secret")
	}

	s.logAudit(ctx, audit.EventSecretRotated, orgID, sub.ID.String(),
		"subscription_id", sub.ID)
	return sub, secret, nil
}

// ListDeliveries returns recent delivery records for a subscription, newest
// first.
func (s *Service) ListDeliveries(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID, limit int) ([]*models.DeliveryRecord, error) {
	if _, err := s.GetSubscription(ctx, orgID, subID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	records, err := s.deliveries.ListBySubscription(ctx, orgID, subID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list deliveries")
	}
	return records, nil
}

// ReplayDelivery resets an exhausted record to retrying with a fresh attempt
// budget so the scheduler picks it up again. This is the one operator escape
// hatch out of a terminal state.
func (s *Service) ReplayDelivery(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID, eventID string) (*models.DeliveryRecord, error) {
	sub, err := s.GetSubscription(ctx, orgID, subID)
	if err != nil {
		return nil, err
	}
	if !sub.Active {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot replay to an inactive subscription")
	}

	rec, err := s.deliveries.Replay(ctx, eventID, subID, s.cfg.DefaultMaxAttempts, requestcontext.Now(ctx))
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "delivery record not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeConflict, "only exhausted deliveries can be replayed")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to replay delivery")
		}
	}

	s.logAudit(ctx, audit.EventDeliveryReplayed, orgID, eventID,
		"subscription_id", subID, "event_id", eventID)
	return rec, nil
}
