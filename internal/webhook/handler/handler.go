// Package handler wires the webhook management and internal dispatch APIs to
// the webhook service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"incentra/internal/webhook/models"
	"incentra/internal/webhook/service"
	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
	"incentra/pkg/platform/httputil"
	"incentra/pkg/requestcontext"
)

// Service defines the webhook operations the HTTP layer depends on.
type Service interface {
	CreateSubscription(ctx context.Context, orgID id.OrgID, params service.CreateSubscriptionParams) (*models.Subscription, string, error)
	GetSubscription(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, orgID id.OrgID) ([]*models.Subscription, error)
	UpdateSubscription(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID, params service.UpdateSubscriptionParams) (*models.Subscription, error)
	DeactivateSubscription(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID) error
	RotateSecret(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID) (*models.Subscription, string, error)
	SendTest(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID) (*service.DispatchResult, error)
	ListDeliveries(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID, limit int) ([]*models.DeliveryRecord, error)
	ReplayDelivery(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID, eventID string) (*models.DeliveryRecord, error)
	Dispatch(ctx context.Context, orgID id.OrgID, eventType models.EventType, data map[string]any) (*service.DispatchResult, error)
	ProcessRetries(ctx context.Context) (*service.RetryResult, error)
}

// Handler wires webhook endpoints to the webhook service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a webhook handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterManagement mounts the org-scoped subscription management endpoints.
// The router must carry org-scoped auth middleware.
func (h *Handler) RegisterManagement(r chi.Router) {
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Route("/{subscriptionID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Patch("/", h.HandleUpdate)
			r.Delete("/", h.HandleDeactivate)
			r.Post("/test", h.HandleTest)
			r.Post("/rotate-secret", h.HandleRotateSecret)
			r.Get("/deliveries", h.HandleListDeliveries)
			r.Post("/deliveries/{eventID}/replay", h.HandleReplay)
		})
	})
}

// RegisterInternal mounts the service-to-service endpoints. The router must
// carry internal-scope auth middleware.
func (h *Handler) RegisterInternal(r chi.Router) {
	r.Post("/events", h.HandleDispatch)
	r.Post("/retries/process", h.HandleProcessRetries)
}

// HandleCreate handles POST /api/v1/webhooks.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	orgID := requestcontext.OrgID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateSubscriptionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sub, secret, err := h.service.CreateSubscription(ctx, orgID, req.ToParams())
	if err != nil {
		h.logger.ErrorContext(ctx, "subscription creation failed",
			"request_id", requestID, "organization_id", orgID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "subscription created",
		"request_id", requestID, "organization_id", orgID, "subscription_id", sub.ID)
	httputil.WriteJSON(w, http.StatusCreated, FromSubscriptionWithSecret(sub, secret))
}

// HandleList handles GET /api/v1/webhooks.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := requestcontext.OrgID(ctx)

	subs, err := h.service.ListSubscriptions(ctx, orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSubscriptions(subs))
}

// HandleGet handles GET /api/v1/webhooks/{subscriptionID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(ctx, requestcontext.OrgID(ctx), subID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSubscription(sub))
}

// HandleUpdate handles PATCH /api/v1/webhooks/{subscriptionID}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	subID, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[UpdateSubscriptionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sub, err := h.service.UpdateSubscription(ctx, requestcontext.OrgID(ctx), subID, req.ToParams())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSubscription(sub))
}

// HandleDeactivate handles DELETE /api/v1/webhooks/{subscriptionID}. The
// subscription is marked inactive, never removed.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeactivateSubscription(ctx, requestcontext.OrgID(ctx), subID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

// HandleTest handles POST /api/v1/webhooks/{subscriptionID}/test.
func (h *Handler) HandleTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	result, err := h.service.SendTest(ctx, requestcontext.OrgID(ctx), subID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleRotateSecret handles POST /api/v1/webhooks/{subscriptionID}/rotate-secret.
func (h *Handler) HandleRotateSecret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	sub, secret, err := h.service.RotateSecret(ctx, requestcontext.OrgID(ctx), subID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSubscriptionWithSecret(sub, secret))
}

// HandleListDeliveries handles GET /api/v1/webhooks/{subscriptionID}/deliveries.
func (h *Handler) HandleListDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	records, err := h.service.ListDeliveries(ctx, requestcontext.OrgID(ctx), subID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDeliveries(records))
}

// HandleReplay handles POST /api/v1/webhooks/{subscriptionID}/deliveries/{eventID}/replay.
func (h *Handler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "event id is required"))
		return
	}

	rec, err := h.service.ReplayDelivery(ctx, requestcontext.OrgID(ctx), subID, eventID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDelivery(rec))
}

// HandleDispatch handles POST /internal/v1/events.
func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DispatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	ctx = requestcontext.WithTriggerMode(ctx, "api")
	result, err := h.service.Dispatch(ctx, req.ParsedOrgID(), req.ParsedEventType(), req.Data)
	if err != nil {
		h.logger.ErrorContext(ctx, "dispatch failed",
			"request_id", requestID, "event_type", req.EventType, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, result)
}

// HandleProcessRetries handles POST /internal/v1/retries/process, the
// external cron entry point for the retry scheduler.
func (h *Handler) HandleProcessRetries(w http.ResponseWriter, r *http.Request) {
	ctx := requestcontext.WithTriggerMode(r.Context(), "scheduler")

	result, err := h.service.ProcessRetries(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "retry processing failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) subscriptionID(w http.ResponseWriter, r *http.Request) (id.SubscriptionID, bool) {
	subID, err := id.ParseSubscriptionID(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "subscription id must be a valid UUID"))
		return id.SubscriptionID{}, false
	}
	return subID, true
}
