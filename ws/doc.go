// Package ws implements the tenant-scoped realtime layer: authenticated
// websocket connections grouped per organization, customer presence
// claims, typing indicators, and broadcast fan-out.
//
// Every connection is authenticated with a JWT before the upgrade and
// joins exactly one tenant; messages never cross tenants. Presence
// claims are advisory UI state released automatically when their holder
// disconnects.
package ws
