package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skyplanner/eventkit/pkg/pg"
)

// PostgresRepository implements Repository on the webhook_endpoints and
// webhook_deliveries tables.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates the Postgres-backed repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("webhook: pool cannot be nil")
	}
	return &PostgresRepository{pool: pool}
}

const endpointColumns = `id, organization_id, url, name, description, events, is_active, failure_count, disabled_reason, created_by, created_at, updated_at`

func scanEndpoint(row pgx.Row, withSecret bool) (*Endpoint, error) {
	var (
		e           Endpoint
		events      []string
		description *string
		reason      *string
	)
	dest := []any{
		&e.ID, &e.OrganizationID, &e.URL, &e.Name, &description, &events,
		&e.IsActive, &e.FailureCount, &reason, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	}
	if withSecret {
		dest = append(dest, &e.SecretHash)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if description != nil {
		e.Description = *description
	}
	if reason != nil {
		e.DisabledReason = *reason
	}
	e.Events = make([]EventType, 0, len(events))
	for _, ev := range events {
		e.Events = append(e.Events, EventType(ev))
	}
	return &e, nil
}

func eventStrings(events []EventType) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, string(ev))
	}
	return out
}

func (r *PostgresRepository) CreateEndpoint(ctx context.Context, endpoint *Endpoint) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO webhook_endpoints (organization_id, url, name, description, events, secret_hash, is_active, failure_count, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		RETURNING id, created_at, updated_at`,
		endpoint.OrganizationID, endpoint.URL, endpoint.Name, endpoint.Description,
		eventStrings(endpoint.Events), endpoint.SecretHash, endpoint.IsActive, endpoint.CreatedBy,
	).Scan(&endpoint.ID, &endpoint.CreatedAt, &endpoint.UpdatedAt)
}

func (r *PostgresRepository) GetEndpoint(ctx context.Context, id, orgID int64) (*Endpoint, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1 AND organization_id = $2`,
		id, orgID)
	endpoint, err := scanEndpoint(row, false)
	if pg.IsNotFoundError(err) {
		return nil, ErrEndpointNotFound
	}
	return endpoint, err
}

func (r *PostgresRepository) ListEndpoints(ctx context.Context, orgID int64) ([]Endpoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE organization_id = $1 ORDER BY created_at DESC`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows, false)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *endpoint)
	}
	return endpoints, rows.Err()
}

func (r *PostgresRepository) UpdateEndpoint(ctx context.Context, endpoint *Endpoint) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_endpoints
		SET url = $3, name = $4, description = $5, events = $6, is_active = $7, disabled_reason = $8, updated_at = now()
		WHERE id = $1 AND organization_id = $2`,
		endpoint.ID, endpoint.OrganizationID, endpoint.URL, endpoint.Name, endpoint.Description,
		eventStrings(endpoint.Events), endpoint.IsActive, nullIfEmpty(endpoint.DisabledReason))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteEndpoint(ctx context.Context, id, orgID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM webhook_endpoints WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (r *PostgresRepository) GetEndpointWithSecret(ctx context.Context, id int64) (*Endpoint, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+endpointColumns+`, secret_hash FROM webhook_endpoints WHERE id = $1`, id)
	endpoint, err := scanEndpoint(row, true)
	if pg.IsNotFoundError(err) {
		return nil, ErrEndpointNotFound
	}
	return endpoint, err
}

func (r *PostgresRepository) GetActiveEndpoints(ctx context.Context, orgID int64, eventType EventType) ([]Endpoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints
		 WHERE organization_id = $1 AND is_active = true AND $2 = ANY(events)`,
		orgID, string(eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows, false)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *endpoint)
	}
	return endpoints, rows.Err()
}

func (r *PostgresRepository) UpdateSecretHash(ctx context.Context, id, orgID int64, secretHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_endpoints SET secret_hash = $3, updated_at = now()
		WHERE id = $1 AND organization_id = $2`,
		id, orgID, secretHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (r *PostgresRepository) DisableEndpoint(ctx context.Context, id int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_endpoints SET is_active = false, disabled_reason = $2, updated_at = now()
		WHERE id = $1`,
		id, reason)
	return err
}

func (r *PostgresRepository) RecordSuccess(ctx context.Context, endpointID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_endpoints SET failure_count = 0, updated_at = now() WHERE id = $1`,
		endpointID)
	return err
}

func (r *PostgresRepository) RecordFailure(ctx context.Context, endpointID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE webhook_endpoints SET failure_count = failure_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING failure_count`,
		endpointID).Scan(&count)
	if pg.IsNotFoundError(err) {
		return 0, ErrEndpointNotFound
	}
	return count, err
}

const deliveryColumns = `id, webhook_endpoint_id, organization_id, event_type, event_id, payload, status, attempt_count, max_attempts, next_retry_at, response_status, response_body, response_time_ms, error_message, delivered_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var (
		d            Delivery
		responseBody *string
		errorMessage *string
	)
	if err := row.Scan(
		&d.ID, &d.EndpointID, &d.OrganizationID, &d.EventType, &d.EventID, &d.Payload,
		&d.Status, &d.AttemptCount, &d.MaxAttempts, &d.NextRetryAt,
		&d.ResponseStatus, &responseBody, &d.ResponseTimeMS, &errorMessage,
		&d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if responseBody != nil {
		d.ResponseBody = *responseBody
	}
	if errorMessage != nil {
		d.ErrorMessage = *errorMessage
	}
	return &d, nil
}

func (r *PostgresRepository) CreateDelivery(ctx context.Context, delivery *Delivery) error {
	if delivery.MaxAttempts <= 0 {
		delivery.MaxAttempts = DefaultMaxAttempts
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (webhook_endpoint_id, organization_id, event_type, event_id, payload, status, attempt_count, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING id, created_at, updated_at`,
		delivery.EndpointID, delivery.OrganizationID, string(delivery.EventType),
		delivery.EventID, []byte(delivery.Payload), string(delivery.Status), delivery.MaxAttempts,
	).Scan(&delivery.ID, &delivery.CreatedAt, &delivery.UpdatedAt)
}

func (r *PostgresRepository) GetDueDeliveries(ctx context.Context, now time.Time, limit int) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		 WHERE status = 'pending' OR (status = 'retrying' AND next_retry_at <= $1)
		 ORDER BY created_at
		 LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *delivery)
	}
	return deliveries, rows.Err()
}

func (r *PostgresRepository) GetDelivery(ctx context.Context, id, orgID int64) (*Delivery, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1 AND organization_id = $2`,
		id, orgID)
	delivery, err := scanDelivery(row)
	if pg.IsNotFoundError(err) {
		return nil, ErrDeliveryNotFound
	}
	return delivery, err
}

func (r *PostgresRepository) ListDeliveries(ctx context.Context, endpointID, orgID int64, limit int) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		 WHERE webhook_endpoint_id = $1 AND organization_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		endpointID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *delivery)
	}
	return deliveries, rows.Err()
}

func (r *PostgresRepository) UpdateDelivery(ctx context.Context, delivery *Delivery) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempt_count = $3, next_retry_at = $4, response_status = $5,
		    response_body = $6, response_time_ms = $7, error_message = $8, delivered_at = $9,
		    updated_at = now()
		WHERE id = $1`,
		delivery.ID, string(delivery.Status), delivery.AttemptCount, delivery.NextRetryAt,
		delivery.ResponseStatus, nullIfEmpty(delivery.ResponseBody), delivery.ResponseTimeMS,
		nullIfEmpty(delivery.ErrorMessage), delivery.DeliveredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrDeliveryNotFound, delivery.ID)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
