// Package pg bootstraps the PostgreSQL layer on pgx/v5: an env-driven pool
// configuration, Connect with retry, a health check closure, and error
// classification helpers shared by the repository implementations.
package pg
