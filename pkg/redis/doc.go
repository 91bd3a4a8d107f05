// Package redis provides connection bootstrap for the go-redis/v9 client:
// env-driven configuration, Connect with retry, and a health check closure.
// The realtime hub uses it to back the token blacklist consulted during
// WebSocket upgrade authentication.
package redis
