// Package app wires the realtime hub, the webhook delivery engine, and
// their shared infrastructure into one runnable service.
package app
