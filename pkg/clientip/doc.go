// Package clientip extracts the originating client IP from proxied HTTP
// requests for audit logging. Header values are validated as real IPs so
// spoofed garbage never lands in the audit trail.
package clientip
