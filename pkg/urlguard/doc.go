// Package urlguard validates outbound webhook URLs against SSRF.
//
// A URL passes only when it parses, uses https, and neither its literal host
// nor any of its resolved A/AAAA addresses fall into private, loopback,
// link-local, or "this network" ranges. Cloud metadata endpoints are covered
// by the 169.254.0.0/16 block.
//
// Callers re-validate immediately before each delivery attempt rather than
// only at endpoint registration, since DNS can change underneath a stored URL.
package urlguard
