package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"incentra/internal/webhook/models"
	id "incentra/pkg/domain"
	"incentra/pkg/platform/sentinel"
)

// Postgres persists subscriptions in the webhook_subscriptions table.
// Event types are a text[] column so the containment query runs on the
// server; filters and custom headers are jsonb.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed subscription store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const subscriptionColumns = `
	id, organization_id, url, secret, event_types, filters, headers,
	active, max_attempts, last_triggered_at, last_success_at,
	last_failure_at, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, sub *models.Subscription) error {
	filters, headers, err := encodeJSONColumns(sub)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (
			id, organization_id, url, secret, event_types, filters, headers,
			active, max_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(sub.ID), uuid.UUID(sub.OrgID), sub.URL, sub.Secret,
		pq.Array(eventTypeStrings(sub.EventTypes)), filters, headers,
		sub.Active, sub.MaxAttempts, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, subID id.SubscriptionID) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE id = $1`,
		uuid.UUID(subID),
	)
	return scanSubscription(row)
}

func (s *Postgres) ListByOrg(ctx context.Context, orgID id.OrgID) ([]*models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE organization_id = $1
		ORDER BY created_at`,
		uuid.UUID(orgID),
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *Postgres) ListActiveForEvent(ctx context.Context, orgID id.OrgID, eventType models.EventType) ([]*models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE organization_id = $1
		  AND active
		  AND $2 = ANY(event_types)
		ORDER BY created_at`,
		uuid.UUID(orgID), string(eventType),
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for event: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *Postgres) Update(ctx context.Context, sub *models.Subscription) error {
	filters, headers, err := encodeJSONColumns(sub)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET url = $2, secret = $3, event_types = $4, filters = $5,
		    headers = $6, active = $7, max_attempts = $8, updated_at = $9
		WHERE id = $1`,
		uuid.UUID(sub.ID), sub.URL, sub.Secret,
		pq.Array(eventTypeStrings(sub.EventTypes)), filters, headers,
		sub.Active, sub.MaxAttempts, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) TouchTriggered(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET last_triggered_at = $2, updated_at = $2
		WHERE id = $1`,
		uuid.UUID(subID), at,
	)
	if err != nil {
		return fmt.Errorf("touch subscription: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) TouchDelivery(ctx context.Context, subID id.SubscriptionID, success bool, at time.Time) error {
	column := "last_failure_at"
	if success {
		column = "last_success_at"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET `+column+` = $2, updated_at = $2
		WHERE id = $1`,
		uuid.UUID(subID), at,
	)
	if err != nil {
		return fmt.Errorf("touch subscription delivery: %w", err)
	}
	return requireRow(res)
}

// -----------------------------------------------------------------------------
// Row mapping
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub        models.Subscription
		subID      uuid.UUID
		orgID      uuid.UUID
		eventTypes pq.StringArray
		filters    []byte
		headers    []byte
		triggered  sql.NullTime
		succeeded  sql.NullTime
		failed     sql.NullTime
	)
	err := row.Scan(
		&subID, &orgID, &sub.URL, &sub.Secret, &eventTypes, &filters, &headers,
		&sub.Active, &sub.MaxAttempts, &triggered, &succeeded, &failed,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.ID = id.SubscriptionID(subID)
	sub.OrgID = id.OrgID(orgID)
	sub.EventTypes = make([]models.EventType, len(eventTypes))
	for i, et := range eventTypes {
		sub.EventTypes[i] = models.EventType(et)
	}
	if len(filters) > 0 {
		sub.Filters = &models.FilterCriteria{}
		if err := json.Unmarshal(filters, sub.Filters); err != nil {
			return nil, fmt.Errorf("decode subscription filters: %w", err)
		}
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &sub.Headers); err != nil {
			return nil, fmt.Errorf("decode subscription headers: %w", err)
		}
	}
	sub.LastTriggeredAt = nullableTime(triggered)
	sub.LastSuccessAt = nullableTime(succeeded)
	sub.LastFailureAt = nullableTime(failed)
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func encodeJSONColumns(sub *models.Subscription) (filters, headers []byte, err error) {
	if sub.Filters != nil {
		if filters, err = json.Marshal(sub.Filters); err != nil {
			return nil, nil, fmt.Errorf("encode subscription filters: %w", err)
		}
	}
	if len(sub.Headers) > 0 {
		if headers, err = json.Marshal(sub.Headers); err != nil {
			return nil, nil, fmt.Errorf("encode subscription headers: %w", err)
		}
	}
	return filters, headers, nil
}

func eventTypeStrings(types []models.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// isUniqueViolation matches SQLSTATE 23505 as surfaced by the pgx stdlib
// driver every connection here is opened with.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
