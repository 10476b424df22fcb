package server

import "errors"

// Flow rejection errors. These stay deliberately coarse: the HTTP layer maps
// them onto RFC 6749 error codes, and the descriptions sent to clients never
// reveal which internal check failed.
var (
	// ErrInvalidRequest indicates a malformed or missing required parameter
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidClient indicates an unknown client, a redirect URI that
	// does not match the registration, or failed client authentication
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidScope indicates a scope outside what the server or client
	// is allowed
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidGrant indicates an unknown, expired or already-consumed
	// authorization code, a redirect URI mismatch at exchange, or a failed
	// PKCE check. All of these are indistinguishable to the caller.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrAuthenticationFailed indicates the resource owner could not be
	// authenticated: wrong credentials or a locked account. Which factor
	// failed is never surfaced.
	ErrAuthenticationFailed = errors.New("authentication failed")
)
