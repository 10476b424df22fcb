package storage

import "errors"

// Sentinel errors returned by storage implementations. Callers distinguish
// them with errors.Is; implementations may wrap them with additional context.
var (
	// ErrUserNotFound indicates no user exists for the given username
	ErrUserNotFound = errors.New("user not found")

	// ErrClientNotFound indicates no client is registered under the given ID
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthorizationCodeNotFound indicates the code is absent, expired, or
	// already consumed. The three cases are deliberately indistinguishable to
	// callers (and therefore to clients); implementations log the difference.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
)
