package webhook

import (
	"context"
	"time"
)

// Repository is the narrow persistence surface required by the webhook
// subsystem. Mutations on endpoints and deliveries are scoped by
// (id, organization_id) so one tenant can never touch another tenant's rows;
// engine-internal lookups by bare id are explicitly named as such.
//
// The repository is the source of truth for delivery state. The engine is
// reentrant only because every transition goes through it.
type Repository interface {
	// CreateEndpoint persists a new endpoint and fills in its ID and
	// timestamps.
	CreateEndpoint(ctx context.Context, endpoint *Endpoint) error

	// GetEndpoint returns an endpoint scoped to the organization, without
	// the secret hash. Returns ErrEndpointNotFound if absent.
	GetEndpoint(ctx context.Context, id, orgID int64) (*Endpoint, error)

	// ListEndpoints returns all endpoints of the organization.
	ListEndpoints(ctx context.Context, orgID int64) ([]Endpoint, error)

	// UpdateEndpoint replaces url, name, description, events, and is_active,
	// scoped by (id, organization_id).
	UpdateEndpoint(ctx context.Context, endpoint *Endpoint) error

	// DeleteEndpoint removes the endpoint, scoped by (id, organization_id).
	DeleteEndpoint(ctx context.Context, id, orgID int64) error

	// GetEndpointWithSecret returns the endpoint including its secret hash.
	// Internal use by the delivery engine only.
	GetEndpointWithSecret(ctx context.Context, id int64) (*Endpoint, error)

	// GetActiveEndpoints returns active endpoints of the organization
	// subscribed to the event type.
	GetActiveEndpoints(ctx context.Context, orgID int64, eventType EventType) ([]Endpoint, error)

	// UpdateSecretHash atomically replaces the stored secret hash.
	UpdateSecretHash(ctx context.Context, id, orgID int64, secretHash string) error

	// DisableEndpoint sets is_active=false and records the reason.
	DisableEndpoint(ctx context.Context, id int64, reason string) error

	// RecordSuccess resets the endpoint failure counter to zero.
	RecordSuccess(ctx context.Context, endpointID int64) error

	// RecordFailure increments the endpoint failure counter and returns the
	// new value.
	RecordFailure(ctx context.Context, endpointID int64) (int, error)

	// CreateDelivery persists a new pending delivery and fills in its ID and
	// timestamps.
	CreateDelivery(ctx context.Context, delivery *Delivery) error

	// GetDueDeliveries returns deliveries in status pending plus those in
	// retrying whose next_retry_at is at or before now.
	GetDueDeliveries(ctx context.Context, now time.Time, limit int) ([]Delivery, error)

	// GetDelivery returns a delivery scoped to the organization. Returns
	// ErrDeliveryNotFound if absent.
	GetDelivery(ctx context.Context, id, orgID int64) (*Delivery, error)

	// ListDeliveries returns delivery history for an endpoint, newest first,
	// capped at limit.
	ListDeliveries(ctx context.Context, endpointID, orgID int64, limit int) ([]Delivery, error)

	// UpdateDelivery atomically writes status, attempt counters, retry
	// scheduling, and response fields.
	UpdateDelivery(ctx context.Context, delivery *Delivery) error
}
