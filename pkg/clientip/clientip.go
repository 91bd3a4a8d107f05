package clientip

import (
	"net"
	"net/http"
	"strings"
)

// proxyHeaders in trust order. CDN headers win over the generic
// forwarding chain because the edge strips client-supplied values.
var proxyHeaders = []string{"CF-Connecting-IP", "X-Real-IP"}

// FromRequest returns the originating client IP for the request,
// walking the proxy headers before falling back to RemoteAddr. The
// result is a normalized IP string, or empty when nothing parses.
func FromRequest(r *http.Request) string {
	for _, header := range proxyHeaders {
		if ip := normalize(r.Header.Get(header)); ip != "" {
			return ip
		}
	}

	// X-Forwarded-For holds a comma-separated chain; the first valid
	// entry is the client.
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		for part := range strings.SplitSeq(forwarded, ",") {
			if ip := normalize(part); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalize(r.RemoteAddr)
	}
	return normalize(host)
}

// normalize validates the candidate and returns its canonical form, or
// empty for garbage. Spoofed header values that are not IPs never reach
// the audit log this way.
func normalize(candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return ""
	}
	ip := net.ParseIP(candidate)
	if ip == nil {
		return ""
	}
	return ip.String()
}
