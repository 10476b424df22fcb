// Package storage defines interfaces for persisting users, OAuth clients, and
// authorization codes. It supports various backend implementations including
// in-memory and Valkey/Redis-compatible stores.
package storage

import (
	"context"
	"time"
)

// UserStore defines the interface for user credential persistence.
// All methods accept context.Context for tracing and cancellation.
type UserStore interface {
	// GetUser retrieves a user by username
	GetUser(ctx context.Context, username string) (*User, error)

	// SaveUser persists a user record (failure counter and lock state included)
	SaveUser(ctx context.Context, user *User) error
}

// ClientStore defines the interface for managing registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// FlowStore defines the interface for the authorization-code lifecycle.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically removes and returns the stored code.
	// Exactly one concurrent caller succeeds; all others receive
	// ErrAuthorizationCodeNotFound. Expired codes are treated identically to
	// absent ones and are never resurrected.
	// SECURITY: This operation MUST be atomic to prevent concurrent code
	// exchange attacks.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code without returning it
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// Client represents a registered OAuth client.
// The client secret is stored only as a hash and is never serialized outward.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash, never the raw secret
	RedirectURI      string // single registered redirect, byte-exact match
	ClientName       string
	Scopes           []string
	CreatedAt        time.Time
}

// AllowsScope reports whether a single scope token is in the client's
// allowed set. Clients with an empty set allow nothing.
func (c *Client) AllowsScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// User represents an end user with a hashed password credential and
// brute-force lockout state.
type User struct {
	Username       string
	PasswordHash   string // bcrypt hash, never the raw password
	FailedAttempts int
	LockedUntil    time.Time // zero value means not locked
	CreatedAt      time.Time
}

// Locked reports whether the account is locked at the given instant.
func (u *User) Locked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && u.LockedUntil.After(now)
}

// AuthorizationCode represents an issued authorization code and the request
// context it is bound to. The registry owns the only copy; consumption
// removes it.
type AuthorizationCode struct {
	Code                string
	Username            string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}
