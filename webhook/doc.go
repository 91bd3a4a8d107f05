// Package webhook implements the persisted, at-least-once webhook delivery
// subsystem: endpoint management with one-time secrets, an event dispatcher
// that fans a business event out into one delivery row per subscribed
// endpoint, and a delivery engine that drives each row through its state
// machine (pending -> retrying* -> delivered | failed).
//
// Deliveries are signed with HMAC-SHA256 (pkg/signature), destination URLs
// are re-checked against SSRF before every attempt (pkg/urlguard), failures
// retry on a fixed delay ladder, and endpoints that keep failing are
// deactivated automatically. The Repository interface is the persistence
// boundary; PostgresRepository is the production implementation.
//
// Delivery errors never reach the business caller that triggered the event:
// they are observable only through delivery history and the audit trail.
package webhook
