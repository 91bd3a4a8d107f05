package ws

import "errors"

var (
	ErrBadMessage    = errors.New("malformed or unknown message")
	ErrMissingToken  = errors.New("missing access token")
	ErrInvalidToken  = errors.New("invalid access token")
	ErrTokenRevoked  = errors.New("access token revoked")
	ErrHubClosed     = errors.New("hub is shut down")
	ErrNotClaimOwner = errors.New("claim held by another user")
)
