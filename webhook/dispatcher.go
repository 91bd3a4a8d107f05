package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// engineTrigger is the slice of the engine the dispatcher needs.
type engineTrigger interface {
	Trigger()
}

// Dispatcher converts a business event into queued deliveries for every
// subscribed endpoint of one tenant, then kicks the engine. The caller's
// operation never blocks on delivery.
type Dispatcher struct {
	repo   Repository
	engine engineTrigger
	log    *slog.Logger
	now    func() time.Time
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithDispatcherClock overrides the time source for deterministic tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher creates a dispatcher bound to a repository and engine.
func NewDispatcher(repo Repository, engine engineTrigger, opts ...DispatcherOption) *Dispatcher {
	if repo == nil {
		panic("webhook: repository cannot be nil")
	}
	if engine == nil {
		panic("webhook: engine cannot be nil")
	}

	d := &Dispatcher{
		repo:   repo,
		engine: engine,
		log:    slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TriggerEvent queues one pending delivery per active endpoint of the
// organization subscribed to eventType. Returns the shared event ID, or an
// empty string when no endpoint is subscribed.
func (d *Dispatcher) TriggerEvent(ctx context.Context, orgID int64, eventType EventType, data any) (string, error) {
	if !eventType.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownEvent, eventType)
	}

	endpoints, err := d.repo.GetActiveEndpoints(ctx, orgID, eventType)
	if err != nil {
		return "", fmt.Errorf("list subscribed endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		d.log.DebugContext(ctx, "no endpoints subscribed to event",
			slog.Int64("organization_id", orgID),
			slog.String("event_type", string(eventType)))
		return "", nil
	}

	eventID := "evt_" + uuid.New().String()
	payload, err := json.Marshal(EventPayload{
		ID:             eventID,
		Type:           eventType,
		CreatedAt:      d.now().UTC().Format(time.RFC3339),
		OrganizationID: orgID,
		Data:           data,
	})
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}

	for _, endpoint := range endpoints {
		delivery := &Delivery{
			EndpointID:     endpoint.ID,
			OrganizationID: orgID,
			EventType:      eventType,
			EventID:        eventID,
			Payload:        payload,
			Status:         StatusPending,
			MaxAttempts:    DefaultMaxAttempts,
		}
		if err := d.repo.CreateDelivery(ctx, delivery); err != nil {
			// Remaining endpoints still get their deliveries; one bad row
			// must not starve the rest of the fan-out.
			d.log.ErrorContext(ctx, "failed to queue delivery",
				slog.Int64("endpoint_id", endpoint.ID),
				slog.String("event_id", eventID),
				slog.Any("error", err))
		}
	}

	d.engine.Trigger()
	return eventID, nil
}

// CustomerCreated queues a customer.created event.
func (d *Dispatcher) CustomerCreated(ctx context.Context, orgID int64, customer any) (string, error) {
	return d.TriggerEvent(ctx, orgID, EventCustomerCreated, map[string]any{"customer": customer})
}

// CustomerUpdated queues a customer.updated event.
func (d *Dispatcher) CustomerUpdated(ctx context.Context, orgID int64, customer any) (string, error) {
	return d.TriggerEvent(ctx, orgID, EventCustomerUpdated, map[string]any{"customer": customer})
}

// CustomerDeleted queues a customer.deleted event carrying only the ID of the
// removed record.
func (d *Dispatcher) CustomerDeleted(ctx context.Context, orgID, customerID int64) (string, error) {
	return d.TriggerEvent(ctx, orgID, EventCustomerDeleted, map[string]any{
		"customer": map[string]any{"id": customerID},
	})
}

// RouteCompleted queues a route.completed event.
func (d *Dispatcher) RouteCompleted(ctx context.Context, orgID int64, route any) (string, error) {
	return d.TriggerEvent(ctx, orgID, EventRouteCompleted, map[string]any{"route": route})
}

// SyncCompleted queues a sync.completed event.
func (d *Dispatcher) SyncCompleted(ctx context.Context, orgID int64, result any) (string, error) {
	return d.TriggerEvent(ctx, orgID, EventSyncCompleted, map[string]any{"sync": result})
}

// SyncFailed queues a sync.failed event with the failure reason.
func (d *Dispatcher) SyncFailed(ctx context.Context, orgID int64, reason string, details any) (string, error) {
	return d.TriggerEvent(ctx, orgID, EventSyncFailed, map[string]any{
		"sync": map[string]any{"error": reason, "details": details},
	})
}
