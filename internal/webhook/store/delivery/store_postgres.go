package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"incentra/internal/webhook/models"
	id "incentra/pkg/domain"
	"incentra/pkg/platform/sentinel"
)

// Postgres persists delivery records in the webhook_deliveries table. The
// (event_id, subscription_id) pair is the primary key; status claims and
// outcome writes are single conditional UPDATE statements so concurrent
// workers never double-attempt a record.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed delivery store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const deliveryColumns = `
	event_id, subscription_id, organization_id, event_type,
	project_id, application_id, program_id,
	envelope, payload_hash, target_url,
	status, attempt_count, max_attempts,
	scheduled_at, next_retry_at, last_attempt_at,
	response_status, response_headers, response_body, latency_ms,
	error_message, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, rec *models.DeliveryRecord) error {
	headers, err := encodeHeaders(rec.ResponseHeaders)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			event_id, subscription_id, organization_id, event_type,
			project_id, application_id, program_id,
			envelope, payload_hash, target_url,
			status, attempt_count, max_attempts,
			scheduled_at, next_retry_at, response_headers,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		          $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.EventID, uuid.UUID(rec.SubscriptionID), uuid.UUID(rec.OrgID), string(rec.EventType),
		rec.ProjectID, rec.ApplicationID, rec.ProgramID,
		[]byte(rec.Envelope), rec.PayloadHash, rec.TargetURL,
		string(rec.Status), rec.AttemptCount, rec.MaxAttempts,
		rec.ScheduledAt, rec.NextRetryAt, headers,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, eventID string, subID id.SubscriptionID) (*models.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE event_id = $1 AND subscription_id = $2`,
		eventID, uuid.UUID(subID),
	)
	return scanDelivery(row)
}

// MarkSending claims a record with a conditional UPDATE: only pending or
// retrying rows transition. Zero rows updated means the record is either
// missing or in a state that refuses the claim; the follow-up existence probe
// disambiguates.
func (s *Postgres) MarkSending(ctx context.Context, eventID string, subID id.SubscriptionID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $3, updated_at = $4
		WHERE event_id = $1 AND subscription_id = $2
		  AND status IN ($5, $6)`,
		eventID, uuid.UUID(subID),
		string(models.StatusSending), now,
		string(models.StatusPending), string(models.StatusRetrying),
	)
	if err != nil {
		return fmt.Errorf("claim delivery record: %w", err)
	}
	return s.claimResult(ctx, res, eventID, subID)
}

func (s *Postgres) RecordOutcome(ctx context.Context, eventID string, subID id.SubscriptionID, outcome *models.AttemptOutcome, next models.DeliveryStatus, nextRetryAt *time.Time) error {
	headers, err := encodeHeaders(outcome.ResponseHeaders)
	if err != nil {
		return err
	}
	var responseStatus *int
	if outcome.ResponseStatus != 0 {
		responseStatus = &outcome.ResponseStatus
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $3,
		    attempt_count = attempt_count + 1,
		    last_attempt_at = $4,
		    next_retry_at = $5,
		    response_status = $6,
		    response_headers = $7,
		    response_body = $8,
		    latency_ms = $9,
		    error_message = $10,
		    updated_at = $4
		WHERE event_id = $1 AND subscription_id = $2
		  AND status = $11`,
		eventID, uuid.UUID(subID),
		string(next), outcome.AttemptedAt, nextRetryAt,
		responseStatus, headers, outcome.ResponseBody,
		outcome.Latency.Milliseconds(), outcome.ErrorMessage,
		string(models.StatusSending),
	)
	if err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	return s.claimResult(ctx, res, eventID, subID)
}

func (s *Postgres) MarkExhausted(ctx context.Context, eventID string, subID id.SubscriptionID, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $3, error_message = $4, next_retry_at = NULL, updated_at = $5
		WHERE event_id = $1 AND subscription_id = $2
		  AND status NOT IN ($6, $7)`,
		eventID, uuid.UUID(subID),
		string(models.StatusExhausted), reason, now,
		string(models.StatusDelivered), string(models.StatusExhausted),
	)
	if err != nil {
		return fmt.Errorf("exhaust delivery record: %w", err)
	}
	return s.claimResult(ctx, res, eventID, subID)
}

func (s *Postgres) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at
		LIMIT $3`,
		string(models.StatusRetrying), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (s *Postgres) Replay(ctx context.Context, eventID string, subID id.SubscriptionID, maxAttempts int, now time.Time) (*models.DeliveryRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $3,
		    max_attempts = attempt_count + $4,
		    next_retry_at = $5,
		    error_message = '',
		    updated_at = $5
		WHERE event_id = $1 AND subscription_id = $2
		  AND status = $6`,
		eventID, uuid.UUID(subID),
		string(models.StatusRetrying), maxAttempts, now,
		string(models.StatusExhausted),
	)
	if err != nil {
		return nil, fmt.Errorf("replay delivery record: %w", err)
	}
	if err := s.claimResult(ctx, res, eventID, subID); err != nil {
		return nil, err
	}
	return s.Get(ctx, eventID, subID)
}

func (s *Postgres) ListByEvent(ctx context.Context, orgID id.OrgID, eventID string) ([]*models.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE organization_id = $1 AND event_id = $2
		ORDER BY created_at`,
		uuid.UUID(orgID), eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries by event: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (s *Postgres) ListBySubscription(ctx context.Context, orgID id.OrgID, subID id.SubscriptionID, limit int) ([]*models.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE organization_id = $1 AND subscription_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		uuid.UUID(orgID), uuid.UUID(subID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries by subscription: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// claimResult maps a zero-row conditional UPDATE to the right sentinel.
func (s *Postgres) claimResult(ctx context.Context, res sql.Result, eventID string, subID id.SubscriptionID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM webhook_deliveries
			WHERE event_id = $1 AND subscription_id = $2
		)`,
		eventID, uuid.UUID(subID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("probe delivery record: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

// -----------------------------------------------------------------------------
// Row mapping
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*models.DeliveryRecord, error) {
	var (
		rec            models.DeliveryRecord
		subID          uuid.UUID
		orgID          uuid.UUID
		eventType      string
		envelope       []byte
		status         string
		nextRetry      sql.NullTime
		lastAttempt    sql.NullTime
		responseStatus sql.NullInt64
		headers        []byte
		responseBody   sql.NullString
		latencyMS      sql.NullInt64
		errorMessage   sql.NullString
	)
	err := row.Scan(
		&rec.EventID, &subID, &orgID, &eventType,
		&rec.ProjectID, &rec.ApplicationID, &rec.ProgramID,
		&envelope, &rec.PayloadHash, &rec.TargetURL,
		&status, &rec.AttemptCount, &rec.MaxAttempts,
		&rec.ScheduledAt, &nextRetry, &lastAttempt,
		&responseStatus, &headers, &responseBody, &latencyMS,
		&errorMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery record: %w", err)
	}

	rec.SubscriptionID = id.SubscriptionID(subID)
	rec.OrgID = id.OrgID(orgID)
	rec.EventType = models.EventType(eventType)
	rec.Envelope = json.RawMessage(envelope)
	rec.Status = models.DeliveryStatus(status)
	if nextRetry.Valid {
		t := nextRetry.Time
		rec.NextRetryAt = &t
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		rec.LastAttemptAt = &t
	}
	if responseStatus.Valid {
		v := int(responseStatus.Int64)
		rec.ResponseStatus = &v
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("decode response headers: %w", err)
		}
	}
	rec.ResponseBody = responseBody.String
	rec.LatencyMS = latencyMS.Int64
	rec.ErrorMessage = errorMessage.String
	return &rec, nil
}

func scanDeliveries(rows *sql.Rows) ([]*models.DeliveryRecord, error) {
	var out []*models.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode response headers: %w", err)
	}
	return b, nil
}

// isUniqueViolation matches SQLSTATE 23505 as surfaced by the pgx stdlib
// driver every connection here is opened with.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
