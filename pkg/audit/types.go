package audit

import (
	"fmt"
	"time"
)

// Result represents the outcome of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultError   Result = "error"
)

// Actions recorded for authentication-relevant hub activity.
const (
	ActionConnectionOpened = "ws.connection.opened"
	ActionConnectionClosed = "ws.connection.closed"
	ActionUpgradeDenied    = "ws.upgrade.denied"
	ActionSecretRotated    = "webhook.secret.rotated"
	ActionEndpointDisabled = "webhook.endpoint.disabled"
)

// Event represents a single security_audit_log entry.
type Event struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	UserID         string         `json:"user_id"`
	Action         string         `json:"action"`
	Result         Result         `json:"result"`
	Error          string         `json:"error,omitempty"`
	IP             string         `json:"ip,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate checks if the event has all required fields.
func (e *Event) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrEventValidation)
	}
	return nil
}

// EventOption applies configuration to an Event during creation.
type EventOption func(*Event)

// WithOrganization sets the tenant the event belongs to.
func WithOrganization(orgID string) EventOption {
	return func(e *Event) { e.OrganizationID = orgID }
}

// WithUser sets the acting user.
func WithUser(userID string) EventOption {
	return func(e *Event) { e.UserID = userID }
}

// WithIP records the remote address of the request.
func WithIP(ip string) EventOption {
	return func(e *Event) { e.IP = ip }
}

// WithMetadata attaches arbitrary key-value context to the event.
func WithMetadata(key string, value any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}
