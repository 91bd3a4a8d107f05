package webhook_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skyplanner/eventkit/webhook"
)

// memRepo is an in-memory Repository double shared by the engine,
// dispatcher, and service tests.
type memRepo struct {
	mu             sync.Mutex
	endpoints      map[int64]*webhook.Endpoint
	deliveries     map[int64]*webhook.Delivery
	nextEndpointID int64
	nextDeliveryID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		endpoints:  make(map[int64]*webhook.Endpoint),
		deliveries: make(map[int64]*webhook.Delivery),
	}
}

func copyEndpoint(e *webhook.Endpoint) *webhook.Endpoint {
	cp := *e
	cp.Events = append([]webhook.EventType(nil), e.Events...)
	return &cp
}

func copyDelivery(d *webhook.Delivery) *webhook.Delivery {
	cp := *d
	if d.NextRetryAt != nil {
		t := *d.NextRetryAt
		cp.NextRetryAt = &t
	}
	if d.ResponseStatus != nil {
		v := *d.ResponseStatus
		cp.ResponseStatus = &v
	}
	if d.ResponseTimeMS != nil {
		v := *d.ResponseTimeMS
		cp.ResponseTimeMS = &v
	}
	if d.DeliveredAt != nil {
		t := *d.DeliveredAt
		cp.DeliveredAt = &t
	}
	cp.Payload = append([]byte(nil), d.Payload...)
	return &cp
}

func (m *memRepo) CreateEndpoint(_ context.Context, endpoint *webhook.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEndpointID++
	endpoint.ID = m.nextEndpointID
	endpoint.CreatedAt = time.Now()
	endpoint.UpdatedAt = endpoint.CreatedAt
	m.endpoints[endpoint.ID] = copyEndpoint(endpoint)
	return nil
}

func (m *memRepo) GetEndpoint(_ context.Context, id, orgID int64) (*webhook.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok || e.OrganizationID != orgID {
		return nil, webhook.ErrEndpointNotFound
	}
	cp := copyEndpoint(e)
	cp.SecretHash = ""
	return cp, nil
}

func (m *memRepo) ListEndpoints(_ context.Context, orgID int64) ([]webhook.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Endpoint
	for _, e := range m.endpoints {
		if e.OrganizationID == orgID {
			cp := copyEndpoint(e)
			cp.SecretHash = ""
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) UpdateEndpoint(_ context.Context, endpoint *webhook.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[endpoint.ID]
	if !ok || e.OrganizationID != endpoint.OrganizationID {
		return webhook.ErrEndpointNotFound
	}
	e.URL = endpoint.URL
	e.Name = endpoint.Name
	e.Description = endpoint.Description
	e.Events = append([]webhook.EventType(nil), endpoint.Events...)
	e.IsActive = endpoint.IsActive
	e.DisabledReason = endpoint.DisabledReason
	e.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) DeleteEndpoint(_ context.Context, id, orgID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok || e.OrganizationID != orgID {
		return webhook.ErrEndpointNotFound
	}
	delete(m.endpoints, id)
	return nil
}

func (m *memRepo) GetEndpointWithSecret(_ context.Context, id int64) (*webhook.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok {
		return nil, webhook.ErrEndpointNotFound
	}
	return copyEndpoint(e), nil
}

func (m *memRepo) GetActiveEndpoints(_ context.Context, orgID int64, eventType webhook.EventType) ([]webhook.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Endpoint
	for _, e := range m.endpoints {
		if e.OrganizationID == orgID && e.IsActive && e.SubscribedTo(eventType) {
			cp := copyEndpoint(e)
			cp.SecretHash = ""
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) UpdateSecretHash(_ context.Context, id, orgID int64, secretHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok || e.OrganizationID != orgID {
		return webhook.ErrEndpointNotFound
	}
	e.SecretHash = secretHash
	return nil
}

func (m *memRepo) DisableEndpoint(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok {
		return webhook.ErrEndpointNotFound
	}
	e.IsActive = false
	e.DisabledReason = reason
	return nil
}

func (m *memRepo) RecordSuccess(_ context.Context, endpointID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.endpoints[endpointID]; ok {
		e.FailureCount = 0
	}
	return nil
}

func (m *memRepo) RecordFailure(_ context.Context, endpointID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[endpointID]
	if !ok {
		return 0, webhook.ErrEndpointNotFound
	}
	e.FailureCount++
	return e.FailureCount, nil
}

func (m *memRepo) CreateDelivery(_ context.Context, delivery *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDeliveryID++
	delivery.ID = m.nextDeliveryID
	delivery.CreatedAt = time.Now()
	delivery.UpdatedAt = delivery.CreatedAt
	if delivery.MaxAttempts <= 0 {
		delivery.MaxAttempts = webhook.DefaultMaxAttempts
	}
	m.deliveries[delivery.ID] = copyDelivery(delivery)
	return nil
}

func (m *memRepo) GetDueDeliveries(_ context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range m.deliveries {
		due := d.Status == webhook.StatusPending ||
			(d.Status == webhook.StatusRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(now))
		if due {
			out = append(out, *copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) GetDelivery(_ context.Context, id, orgID int64) (*webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok || d.OrganizationID != orgID {
		return nil, webhook.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

func (m *memRepo) ListDeliveries(_ context.Context, endpointID, orgID int64, limit int) ([]webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range m.deliveries {
		if d.EndpointID == endpointID && d.OrganizationID == orgID {
			out = append(out, *copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) UpdateDelivery(_ context.Context, delivery *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[delivery.ID]; !ok {
		return webhook.ErrDeliveryNotFound
	}
	cp := copyDelivery(delivery)
	cp.UpdatedAt = time.Now()
	m.deliveries[delivery.ID] = cp
	return nil
}

// mustGetDelivery reads a delivery bypassing tenant scoping, for assertions.
func (m *memRepo) mustGetDelivery(id int64) webhook.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *copyDelivery(m.deliveries[id])
}

// mustGetEndpoint reads an endpoint bypassing tenant scoping, for assertions.
func (m *memRepo) mustGetEndpoint(id int64) webhook.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *copyEndpoint(m.endpoints[id])
}

// allowAllValidator approves any URL so tests can deliver to httptest
// servers.
type allowAllValidator struct{}

func (allowAllValidator) Validate(context.Context, string) error { return nil }

// nopEngine satisfies the trigger dependency without running anything.
type nopEngine struct{}

func (nopEngine) Trigger() {}
