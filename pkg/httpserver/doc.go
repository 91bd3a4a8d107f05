// Package httpserver provides an http.Server wrapper with env-driven
// configuration, an inspectable listener address, graceful shutdown, and
// probe handlers.
package httpserver
