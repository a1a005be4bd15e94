package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"incentra/internal/platform/config"
	"incentra/internal/webhook/service"
	"incentra/internal/webhook/store/delivery"
	"incentra/internal/webhook/store/subscription"
	id "incentra/pkg/domain"
	"incentra/pkg/testutil"
)

func newWebhookService(t *testing.T) *service.Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return service.New(subscription.NewInMemory(), delivery.NewInMemory(),
		config.Webhook{DefaultMaxAttempts: 5, DeliveryTimeout: 5 * time.Second},
		service.WithLogger(logger))
}

// newRouter mounts the handler the way cmd/server does, minus the auth
// middleware; tests inject the org scope per request via testutil.WithOrg.
func newRouter(svc *service.Service) http.Handler {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(svc, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", h.RegisterManagement)
	r.Route("/internal/v1", h.RegisterInternal)
	return r
}

func doJSON(t *testing.T, router http.Handler, orgID id.OrgID, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req = testutil.WithOrg(req, orgID.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return out
}

func TestSubscriptionLifecycle(t *testing.T) {
	orgID := id.OrgID(uuid.New())
	router := newRouter(newWebhookService(t))

	rec := doJSON(t, router, orgID, http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":         "https://hooks.example.com/incentra",
		"event_types": []string{"project.created", "application.submitted"},
		"headers":     map[string]string{"X-Client-Key": "abc"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating subscription, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[SubscriptionResponse](t, rec)
	if created.ID == "" || !created.Active {
		t.Fatalf("expected an active subscription with an id, got %+v", created)
	}
	if !strings.HasPrefix(created.Secret, "whsec_") || strings.Contains(created.Secret, "****") {
		t.Fatalf("expected the full secret exactly once on create, got %q", created.Secret)
	}
	if created.MaxAttempts != 5 {
		t.Fatalf("expected the default attempt budget, got %d", created.MaxAttempts)
	}

	rec = doJSON(t, router, orgID, http.MethodGet, "/api/v1/webhooks/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching subscription, got %d", rec.Code)
	}
	fetched := decodeBody[SubscriptionResponse](t, rec)
	if !strings.HasSuffix(fetched.Secret, "****") {
		t.Fatalf("expected a redacted secret on read, got %q", fetched.Secret)
	}

	rec = doJSON(t, router, orgID, http.MethodGet, "/api/v1/webhooks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing subscriptions, got %d", rec.Code)
	}
	listed := decodeBody[SubscriptionListResponse](t, rec)
	if len(listed.Subscriptions) != 1 {
		t.Fatalf("expected one subscription, got %d", len(listed.Subscriptions))
	}

	rec = doJSON(t, router, orgID, http.MethodPatch, "/api/v1/webhooks/"+created.ID, map[string]any{
		"url":         "https://hooks.example.com/v2",
		"event_types": []string{"project.created"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 updating subscription, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[SubscriptionResponse](t, rec)
	if updated.URL != "https://hooks.example.com/v2" || len(updated.EventTypes) != 1 {
		t.Fatalf("expected the patch to apply, got %+v", updated)
	}

	rec = doJSON(t, router, orgID, http.MethodDelete, "/api/v1/webhooks/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 deactivating subscription, got %d", rec.Code)
	}

	rec = doJSON(t, router, orgID, http.MethodGet, "/api/v1/webhooks/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected deactivated subscriptions to stay readable, got %d", rec.Code)
	}
	if decodeBody[SubscriptionResponse](t, rec).Active {
		t.Fatalf("expected the subscription to be inactive after delete")
	}
}

func TestCreateSubscriptionValidation(t *testing.T) {
	orgID := id.OrgID(uuid.New())
	router := newRouter(newWebhookService(t))

	cases := map[string]any{
		"missing url":        map[string]any{"event_types": []string{"project.created"}},
		"non-http scheme":    map[string]any{"url": "ftp://hooks.example.com", "event_types": []string{"project.created"}},
		"unknown event type": map[string]any{"url": "https://hooks.example.com", "event_types": []string{"project.exploded"}},
		"empty event types":  map[string]any{"url": "https://hooks.example.com", "event_types": []string{}},
	}
	for name, payload := range cases {
		if rec := doJSON(t, router, orgID, http.MethodPost, "/api/v1/webhooks", payload); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", strings.NewReader("{not json"))
	req = testutil.WithOrg(req, orgID.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestInvalidSubscriptionID(t *testing.T) {
	orgID := id.OrgID(uuid.New())
	router := newRouter(newWebhookService(t))

	if rec := doJSON(t, router, orgID, http.MethodGet, "/api/v1/webhooks/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed subscription id, got %d", rec.Code)
	}
	if rec := doJSON(t, router, orgID, http.MethodGet, "/api/v1/webhooks/"+uuid.New().String(), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown subscription id, got %d", rec.Code)
	}
}

func TestCrossOrgIsolation(t *testing.T) {
	ownerOrg := id.OrgID(uuid.New())
	otherOrg := id.OrgID(uuid.New())
	router := newRouter(newWebhookService(t))

	rec := doJSON(t, router, ownerOrg, http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":         "https://hooks.example.com/incentra",
		"event_types": []string{"project.created"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	created := decodeBody[SubscriptionResponse](t, rec)

	// Another org's token sees the subscription as missing, not forbidden.
	if rec := doJSON(t, router, otherOrg, http.MethodGet, "/api/v1/webhooks/"+created.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a cross-org read, got %d", rec.Code)
	}
}

func TestRotateSecret(t *testing.T) {
	orgID := id.OrgID(uuid.New())
	router := newRouter(newWebhookService(t))

	rec := doJSON(t, router, orgID, http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":         "https://hooks.example.com/incentra",
		"event_types": []string{"project.created"},
	})
	created := decodeBody[SubscriptionResponse](t, rec)

	rec = doJSON(t, router, orgID, http.MethodPost, "/api/v1/webhooks/"+created.ID+"/rotate-secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 rotating secret, got %d", rec.Code)
	}
	rotated := decodeBody[SubscriptionResponse](t, rec)
	if !strings.HasPrefix(rotated.Secret, "whsec_") || strings.Contains(rotated.Secret, "****") {
		t.Fatalf("expected the new full secret, got %q", rotated.Secret)
	}
	if rotated.Secret == created.Secret {
		t.Fatalf("expected rotation to change the secret")
	}
}

func TestSendTestEndpoint(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	orgID := id.OrgID(uuid.New())
	router := newRouter(newWebhookService(t))

	rec := doJSON(t, router, orgID, http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":         target.URL,
		"event_types": []string{"project.created"},
	})
	created := decodeBody[SubscriptionResponse](t, rec)

	rec = doJSON(t, router, orgID, http.MethodPost, "/api/v1/webhooks/"+created.ID+"/test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 sending test event, got %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[service.DispatchResult](t, rec)
	if result.Delivered != 1 {
		t.Fatalf("expected the test event to deliver, got %+v", result)
	}
}

func TestDispatchDeliveriesReplayFlow(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	orgID := id.OrgID(uuid.New())
	router := newRouter(newWebhookService(t))

	rec := doJSON(t, router, orgID, http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":          target.URL,
		"event_types":  []string{"project.created"},
		"max_attempts": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	created := decodeBody[SubscriptionResponse](t, rec)

	rec = doJSON(t, router, orgID, http.MethodPost, "/internal/v1/events", map[string]any{
		"event_type":      "project.created",
		"organization_id": orgID.String(),
		"data":            map[string]any{"project_id": "proj_1"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 dispatching, got %d: %s", rec.Code, rec.Body.String())
	}
	dispatched := decodeBody[service.DispatchResult](t, rec)
	if dispatched.Exhausted != 1 {
		t.Fatalf("expected the single-attempt budget to exhaust, got %+v", dispatched)
	}

	rec = doJSON(t, router, orgID, http.MethodGet, "/api/v1/webhooks/"+created.ID+"/deliveries", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing deliveries, got %d", rec.Code)
	}
	deliveries := decodeBody[DeliveryListResponse](t, rec)
	if len(deliveries.Deliveries) != 1 || deliveries.Deliveries[0].Status != "exhausted" {
		t.Fatalf("expected one exhausted delivery, got %+v", deliveries)
	}

	replayPath := "/api/v1/webhooks/" + created.ID + "/deliveries/" + dispatched.EventID + "/replay"
	rec = doJSON(t, router, orgID, http.MethodPost, replayPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 replaying, got %d: %s", rec.Code, rec.Body.String())
	}
	replayed := decodeBody[DeliveryResponse](t, rec)
	if replayed.Status != "retrying" {
		t.Fatalf("expected replay to set retrying, got %q", replayed.Status)
	}

	// A second replay finds the record non-exhausted.
	if rec := doJSON(t, router, orgID, http.MethodPost, replayPath, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 replaying a non-exhausted record, got %d", rec.Code)
	}

	unknownPath := "/api/v1/webhooks/" + created.ID + "/deliveries/evt_missing/replay"
	if rec := doJSON(t, router, orgID, http.MethodPost, unknownPath, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 replaying an unknown record, got %d", rec.Code)
	}
}

func TestDispatchValidation(t *testing.T) {
	orgID := id.OrgID(uuid.New())
	router := newRouter(newWebhookService(t))

	rec := doJSON(t, router, orgID, http.MethodPost, "/internal/v1/events", map[string]any{
		"event_type":      "project.exploded",
		"organization_id": orgID.String(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown event type, got %d", rec.Code)
	}

	rec = doJSON(t, router, orgID, http.MethodPost, "/internal/v1/events", map[string]any{
		"event_type":      "project.created",
		"organization_id": "not-a-uuid",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed org id, got %d", rec.Code)
	}
}

func TestProcessRetriesEndpoint(t *testing.T) {
	router := newRouter(newWebhookService(t))

	rec := doJSON(t, router, id.OrgID(uuid.New()), http.MethodPost, "/internal/v1/retries/process", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 processing retries, got %d", rec.Code)
	}
	result := decodeBody[service.RetryResult](t, rec)
	if result.Skipped || result.Processed != 0 {
		t.Fatalf("expected an empty pass, got %+v", result)
	}
}
