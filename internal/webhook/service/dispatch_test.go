package service_test

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Lease,AuditPublisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"incentra/internal/audit"
	"incentra/internal/platform/config"
	"incentra/internal/webhook/models"
	"incentra/internal/webhook/service"
	"incentra/internal/webhook/signature"
	"incentra/internal/webhook/store/delivery"
	"incentra/internal/webhook/store/subscription"
	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
	"incentra/pkg/requestcontext"
)

// receivedRequest is one delivery captured by a test endpoint.
type receivedRequest struct {
	Body   []byte
	Header http.Header
}

// endpoint is an httptest-backed subscriber that records every delivery.
type endpoint struct {
	server *httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	received []receivedRequest
}

func newEndpoint(t *testing.T, status int) *endpoint {
	t.Helper()
	ep := &endpoint{status: status}
	ep.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ep.mu.Lock()
		ep.received = append(ep.received, receivedRequest{Body: body, Header: r.Header.Clone()})
		status, respBody := ep.status, ep.body
		ep.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(ep.server.Close)
	return ep
}

func (e *endpoint) URL() string { return e.server.URL }

func (e *endpoint) respond(status int, body string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	e.body = body
}

func (e *endpoint) Requests() []receivedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]receivedRequest, len(e.received))
	copy(out, e.received)
	return out
}

type DispatchSuite struct {
	suite.Suite
	subs   *subscription.InMemory
	dels   *delivery.InMemory
	audits *audit.InMemoryStore
	svc    *service.Service
	orgID  id.OrgID
	ctx    context.Context
}

func (s *DispatchSuite) SetupTest() {
	s.subs = subscription.NewInMemory()
	s.dels = delivery.NewInMemory()
	s.audits = audit.NewInMemoryStore()
	s.svc = service.New(s.subs, s.dels,
		config.Webhook{
			DefaultMaxAttempts: 5,
			DeliveryTimeout:    5 * time.Second,
			FanoutConcurrency:  4,
		},
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		service.WithAuditPublisher(audit.NewPublisher(s.audits)),
	)
	s.orgID = id.OrgID(uuid.New())
	s.ctx = requestcontext.WithTriggerMode(context.Background(), "api")
}

func TestDispatchSuite(t *testing.T) {
	suite.Run(t, new(DispatchSuite))
}

func (s *DispatchSuite) createSub(url string, eventTypes []models.EventType, mutate ...func(*service.CreateSubscriptionParams)) (*models.Subscription, string) {
	params := service.CreateSubscriptionParams{URL: url, EventTypes: eventTypes}
	for _, m := range mutate {
		m(&params)
	}
	sub, secret, err := s.svc.CreateSubscription(s.ctx, s.orgID, params)
	s.Require().NoError(err)
	return sub, secret
}

func (s *DispatchSuite) TestFanOut() {
	ep := newEndpoint(s.T(), http.StatusOK)

	plain, _ := s.createSub(ep.URL(), []models.EventType{models.EventApplicationSubmitted})
	filtered, _ := s.createSub(ep.URL(), []models.EventType{models.EventApplicationSubmitted},
		func(p *service.CreateSubscriptionParams) {
			p.Filters = &models.FilterCriteria{ProjectIDs: []string{"proj_1"}}
		})
	wrongType, _ := s.createSub(ep.URL(), []models.EventType{models.EventProjectCreated})

	result, err := s.svc.Dispatch(s.ctx, s.orgID, models.EventApplicationSubmitted,
		map[string]any{"project_id": "proj_1", "application_id": "app_1"})
	s.Require().NoError(err)

	s.Equal(2, result.Matched)
	s.Equal(2, result.Delivered)
	s.Zero(result.Retrying)
	s.Zero(result.Exhausted)
	s.Len(ep.Requests(), 2)

	records, err := s.dels.ListByEvent(s.ctx, s.orgID, result.EventID)
	s.Require().NoError(err)
	s.Require().Len(records, 2)

	recipients := map[id.SubscriptionID]bool{}
	for _, rec := range records {
		recipients[rec.SubscriptionID] = true
		s.Equal(models.StatusDelivered, rec.Status)
		s.Equal(1, rec.AttemptCount)
		s.Equal("proj_1", rec.ProjectID)
		s.Equal("app_1", rec.ApplicationID)
	}
	s.True(recipients[plain.ID])
	s.True(recipients[filtered.ID])
	s.False(recipients[wrongType.ID])

	// Every recipient gets the exact same serialized envelope.
	s.Equal(records[0].PayloadHash, records[1].PayloadHash)
	s.Equal(records[0].Envelope, records[1].Envelope)
}

func (s *DispatchSuite) TestNoMatchCreatesNoRecords() {
	ep := newEndpoint(s.T(), http.StatusOK)
	s.createSub(ep.URL(), []models.EventType{models.EventProjectCreated},
		func(p *service.CreateSubscriptionParams) {
			p.Filters = &models.FilterCriteria{States: []string{"CA"}}
		})

	result, err := s.svc.Dispatch(s.ctx, s.orgID, models.EventProjectCreated,
		map[string]any{"state": "NY"})
	s.Require().NoError(err)

	s.Zero(result.Matched)
	s.Empty(ep.Requests())

	records, err := s.dels.ListByEvent(s.ctx, s.orgID, result.EventID)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *DispatchSuite) TestUnknownEventTypeRejected() {
	_, err := s.svc.Dispatch(s.ctx, s.orgID, models.EventType("project.exploded"), nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *DispatchSuite) TestProtocolHeaders() {
	ep := newEndpoint(s.T(), http.StatusOK)
	sub, secret := s.createSub(ep.URL(), []models.EventType{models.EventEligibilityNewMatch},
		func(p *service.CreateSubscriptionParams) {
			// Protocol headers must win over same-named custom headers.
			p.Headers = map[string]string{
				"X-Client-Key":     "abc",
				"X-Incentra-Event": "spoofed",
				"User-Agent":       "spoofed",
			}
		})

	result, err := s.svc.Dispatch(s.ctx, s.orgID, models.EventEligibilityNewMatch,
		map[string]any{"project_id": "proj_9"})
	s.Require().NoError(err)
	s.Equal(1, result.Delivered)

	reqs := ep.Requests()
	s.Require().Len(reqs, 1)
	got := reqs[0]

	s.NoError(signature.Verify(got.Body, got.Header.Get(service.HeaderSignature), []byte(secret), time.Now(), 0))
	s.Equal("eligibility.new_match", got.Header.Get(service.HeaderEvent))
	s.Equal(result.EventID, got.Header.Get(service.HeaderDelivery))
	s.Equal("Incentra-Webhook/1.0", got.Header.Get("User-Agent"))
	s.Equal("application/json", got.Header.Get("Content-Type"))
	s.Equal("abc", got.Header.Get("X-Client-Key"))

	var env models.Envelope
	s.Require().NoError(json.Unmarshal(got.Body, &env))
	s.Equal(result.EventID, env.ID)
	s.Equal(models.EventEligibilityNewMatch, env.Event)
	s.Equal(s.orgID, env.OrganizationID)
	s.Require().NotNil(env.Metadata)
	s.Equal("api", env.Metadata.TriggerMode)

	// Delivery success updates the subscription's health timestamps.
	updated, err := s.svc.GetSubscription(s.ctx, s.orgID, sub.ID)
	s.Require().NoError(err)
	s.NotNil(updated.LastTriggeredAt)
	s.NotNil(updated.LastSuccessAt)
}

func (s *DispatchSuite) TestFailedAttemptSchedulesRetry() {
	ep := newEndpoint(s.T(), http.StatusServiceUnavailable)
	ep.respond(http.StatusServiceUnavailable, "busy")
	sub, _ := s.createSub(ep.URL(), []models.EventType{models.EventProjectCreated})

	before := time.Now()
	result, err := s.svc.Dispatch(s.ctx, s.orgID, models.EventProjectCreated, nil)
	s.Require().NoError(err)

	s.Equal(1, result.Matched)
	s.Equal(1, result.Retrying)
	s.Zero(result.Delivered)

	rec, err := s.dels.Get(s.ctx, result.EventID, sub.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRetrying, rec.Status)
	s.Equal(1, rec.AttemptCount)
	s.Equal("HTTP 503", rec.ErrorMessage)
	s.Require().NotNil(rec.ResponseStatus)
	s.Equal(http.StatusServiceUnavailable, *rec.ResponseStatus)
	s.Equal("busy", rec.ResponseBody)
	s.Require().NotNil(rec.NextRetryAt)
	s.True(rec.NextRetryAt.After(before))
}

func (s *DispatchSuite) TestRedirectIsNotDelivery() {
	ep := newEndpoint(s.T(), http.StatusFound)
	sub, _ := s.createSub(ep.URL(), []models.EventType{models.EventProjectCreated})

	result, err := s.svc.Dispatch(s.ctx, s.orgID, models.EventProjectCreated, nil)
	s.Require().NoError(err)
	s.Equal(1, result.Retrying)

	rec, err := s.dels.Get(s.ctx, result.EventID, sub.ID)
	s.Require().NoError(err)
	s.Equal("HTTP 302", rec.ErrorMessage)
}

func (s *DispatchSuite) TestSingleAttemptBudgetExhausts() {
	ep := newEndpoint(s.T(), http.StatusInternalServerError)
	sub, _ := s.createSub(ep.URL(), []models.EventType{models.EventProjectCreated},
		func(p *service.CreateSubscriptionParams) { p.MaxAttempts = 1 })

	result, err := s.svc.Dispatch(s.ctx, s.orgID, models.EventProjectCreated, nil)
	s.Require().NoError(err)
	s.Equal(1, result.Exhausted)

	rec, err := s.dels.Get(s.ctx, result.EventID, sub.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExhausted, rec.Status)
	s.Nil(rec.NextRetryAt)

	events, err := s.audits.ListByOrg(s.ctx, s.orgID.String())
	s.Require().NoError(err)
	var exhausted bool
	for _, e := range events {
		if e.Action == string(audit.EventDeliveryExhausted) && e.Subject == result.EventID {
			exhausted = true
		}
	}
	s.True(exhausted, "expected an exhaustion audit event")
}

func (s *DispatchSuite) TestEndpointIsolation() {
	healthy := newEndpoint(s.T(), http.StatusOK)
	broken := newEndpoint(s.T(), http.StatusInternalServerError)

	good, _ := s.createSub(healthy.URL(), []models.EventType{models.EventProjectCreated})
	bad, _ := s.createSub(broken.URL(), []models.EventType{models.EventProjectCreated})

	result, err := s.svc.Dispatch(s.ctx, s.orgID, models.EventProjectCreated, nil)
	s.Require().NoError(err)

	s.Equal(2, result.Matched)
	s.Equal(1, result.Delivered)
	s.Equal(1, result.Retrying)

	goodRec, err := s.dels.Get(s.ctx, result.EventID, good.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDelivered, goodRec.Status)

	badRec, err := s.dels.Get(s.ctx, result.EventID, bad.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRetrying, badRec.Status)
}

// faultyDeliveryStore fails Create for one subscription and delegates
// everything else to the in-memory store.
type faultyDeliveryStore struct {
	*delivery.InMemory
	failFor id.SubscriptionID
}

func (f *faultyDeliveryStore) Create(ctx context.Context, rec *models.DeliveryRecord) error {
	if rec.SubscriptionID == f.failFor {
		return errors.New("connection reset by peer")
	}
	return f.InMemory.Create(ctx, rec)
}

func (s *DispatchSuite) TestRecordCreationFailureDoesNotAbortFanOut() {
	ep := newEndpoint(s.T(), http.StatusOK)
	store := &faultyDeliveryStore{InMemory: s.dels}
	svc := service.New(s.subs, store,
		config.Webhook{
			DefaultMaxAttempts: 5,
			DeliveryTimeout:    5 * time.Second,
			FanoutConcurrency:  4,
		},
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	healthy, _, err := svc.CreateSubscription(s.ctx, s.orgID, service.CreateSubscriptionParams{
		URL: ep.URL(), EventTypes: []models.EventType{models.EventProjectCreated},
	})
	s.Require().NoError(err)
	broken, _, err := svc.CreateSubscription(s.ctx, s.orgID, service.CreateSubscriptionParams{
		URL: ep.URL(), EventTypes: []models.EventType{models.EventProjectCreated},
	})
	s.Require().NoError(err)
	store.failFor = broken.ID

	result, err := svc.Dispatch(s.ctx, s.orgID, models.EventProjectCreated, nil)
	s.Require().NoError(err)

	// The healthy subscriber is served despite the other one's store failure.
	s.Equal(2, result.Matched)
	s.Equal(1, result.Delivered)
	s.Len(ep.Requests(), 1)

	s.Require().Len(result.Errors, 1)
	s.Equal(broken.ID.String(), result.Errors[0].SubscriptionID)
	s.Contains(result.Errors[0].Error, "connection reset")

	records, err := s.dels.ListByEvent(s.ctx, s.orgID, result.EventID)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(healthy.ID, records[0].SubscriptionID)
	s.Equal(models.StatusDelivered, records[0].Status)
}

func (s *DispatchSuite) TestSendTest() {
	s.Run("bypasses event-type matching", func() {
		ep := newEndpoint(s.T(), http.StatusOK)
		sub, _ := s.createSub(ep.URL(), []models.EventType{models.EventProjectCreated})

		result, err := s.svc.SendTest(s.ctx, s.orgID, sub.ID)
		s.Require().NoError(err)
		s.Equal(1, result.Matched)
		s.Equal(1, result.Delivered)

		reqs := ep.Requests()
		s.Require().Len(reqs, 1)

		var env models.Envelope
		s.Require().NoError(json.Unmarshal(reqs[0].Body, &env))
		s.Equal(models.EventWebhookTest, env.Event)
		s.Equal(sub.ID.String(), env.Data["subscription_id"])
		s.Require().NotNil(env.Metadata)
		s.Equal("test", env.Metadata.TriggerMode)
	})

	s.Run("refuses inactive subscriptions", func() {
		ep := newEndpoint(s.T(), http.StatusOK)
		sub, _ := s.createSub(ep.URL(), []models.EventType{models.EventProjectCreated})
		s.Require().NoError(s.svc.DeactivateSubscription(s.ctx, s.orgID, sub.ID))

		_, err := s.svc.SendTest(s.ctx, s.orgID, sub.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown subscription returns not found", func() {
		_, err := s.svc.SendTest(s.ctx, s.orgID, id.SubscriptionID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *DispatchSuite) TestCrossOrgScoping() {
	ep := newEndpoint(s.T(), http.StatusOK)
	s.createSub(ep.URL(), []models.EventType{models.EventProjectCreated})

	otherOrg := id.OrgID(uuid.New())
	result, err := s.svc.Dispatch(s.ctx, otherOrg, models.EventProjectCreated, nil)
	s.Require().NoError(err)
	s.Zero(result.Matched)
	s.Empty(ep.Requests())
}
