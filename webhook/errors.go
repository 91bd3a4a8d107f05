package webhook

import "errors"

var (
	// ErrEndpointNotFound is returned when an endpoint does not exist within
	// the caller's organization.
	ErrEndpointNotFound = errors.New("webhook endpoint not found")

	// ErrDeliveryNotFound is returned when a delivery does not exist within
	// the caller's organization.
	ErrDeliveryNotFound = errors.New("webhook delivery not found")

	// ErrNoEvents is returned when an endpoint would end up subscribed to
	// nothing.
	ErrNoEvents = errors.New("at least one event type is required")

	// ErrUnknownEvent is returned for event types outside the closed set.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrNameRequired is returned when an endpoint name is empty or blank.
	ErrNameRequired = errors.New("endpoint name is required")

	// ErrAlreadyDelivered is returned when an admin retry targets a delivery
	// that already succeeded.
	ErrAlreadyDelivered = errors.New("delivery already succeeded")
)
