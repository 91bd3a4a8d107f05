package urlguard

import "errors"

// ErrInvalidURL is returned for any URL that is malformed, non-HTTPS, or
// resolves to a private, loopback, or link-local address. The wrapped message
// is user-visible.
var ErrInvalidURL = errors.New("invalid webhook URL")
