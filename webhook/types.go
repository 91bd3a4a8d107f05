package webhook

import (
	"encoding/json"
	"time"
)

// EventType identifies a domain event endpoints can subscribe to.
// The set is closed; unknown types are rejected at endpoint creation.
type EventType string

const (
	EventCustomerCreated EventType = "customer.created"
	EventCustomerUpdated EventType = "customer.updated"
	EventCustomerDeleted EventType = "customer.deleted"
	EventRouteCompleted  EventType = "route.completed"
	EventSyncCompleted   EventType = "sync.completed"
	EventSyncFailed      EventType = "sync.failed"
)

// EventTypes lists every subscribable event type.
func EventTypes() []EventType {
	return []EventType{
		EventCustomerCreated,
		EventCustomerUpdated,
		EventCustomerDeleted,
		EventRouteCompleted,
		EventSyncCompleted,
		EventSyncFailed,
	}
}

// Valid reports whether the event type belongs to the closed set.
func (e EventType) Valid() bool {
	switch e {
	case EventCustomerCreated, EventCustomerUpdated, EventCustomerDeleted,
		EventRouteCompleted, EventSyncCompleted, EventSyncFailed:
		return true
	}
	return false
}

// Endpoint is a registered destination URL subscribed to a set of events.
// SecretHash holds the hex SHA-256 of the one-time-shown secret and is never
// exposed through the service layer.
type Endpoint struct {
	ID             int64       `json:"id"`
	OrganizationID int64       `json:"organization_id"`
	URL            string      `json:"url"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Events         []EventType `json:"events"`
	SecretHash     string      `json:"-"`
	IsActive       bool        `json:"is_active"`
	FailureCount   int         `json:"failure_count"`
	DisabledReason string      `json:"disabled_reason,omitempty"`
	CreatedBy      int64       `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SubscribedTo reports whether the endpoint subscribes to the event type.
func (e *Endpoint) SubscribedTo(eventType EventType) bool {
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of a single delivery record.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusRetrying  DeliveryStatus = "retrying"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// Terminal reports whether the status ends the delivery lifecycle.
// Terminal states only change via an explicit admin retry.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// RetrySchedule is the fixed delay ladder between failed attempts:
// 1 min, 5 min, 15 min, 1 h, 2 h. Attempts beyond the ladder reuse the
// final delay.
var RetrySchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	7200 * time.Second,
}

// DefaultMaxAttempts allows one initial attempt plus one retry per schedule
// step.
var DefaultMaxAttempts = len(RetrySchedule) + 1

// RetryDelay returns the wait before the next attempt given how many
// attempts have already been made (attemptCount >= 1).
func RetryDelay(attemptCount int) time.Duration {
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(RetrySchedule) {
		idx = len(RetrySchedule) - 1
	}
	return RetrySchedule[idx]
}

// Delivery is one attempt record for one endpoint; a single triggered event
// fans out into one Delivery per subscribed endpoint, all sharing EventID.
type Delivery struct {
	ID             int64           `json:"id"`
	EndpointID     int64           `json:"webhook_endpoint_id"`
	OrganizationID int64           `json:"organization_id"`
	EventType      EventType       `json:"event_type"`
	EventID        string          `json:"event_id"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ResponseTimeMS *int64          `json:"response_time_ms,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EventPayload is the JSON body POSTed to endpoints.
type EventPayload struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	CreatedAt      string    `json:"created_at"`
	OrganizationID int64     `json:"organization_id"`
	Data           any       `json:"data"`
}

// maxResponseBodyLen caps the stored response body excerpt.
const maxResponseBodyLen = 1000

// AutoDisableThreshold is the endpoint failure count at which the engine
// deactivates it.
const AutoDisableThreshold = 10

// AutoDisableReason is recorded on endpoints deactivated by the engine.
const AutoDisableReason = "Auto-deactivated after repeated failures"
