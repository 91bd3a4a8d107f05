// Package audit writes security-relevant events to the security_audit_log
// table on a best-effort basis.
//
// Authentication-adjacent code paths (WebSocket upgrade denials, connection
// lifecycle, secret rotation, endpoint auto-disable) record events through
// Logger. Storage failures are logged and swallowed: the audit trail must
// never take down the path it observes. The storage backend is injected at
// construction time rather than resolved lazily.
package audit
