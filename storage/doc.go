// Package storage provides interfaces and shared types for user, client, and
// authorization-code persistence.
//
// The storage package defines the core storage interfaces used throughout the
// library:
//   - UserStore: user credentials and lockout state
//   - ClientStore: registered OAuth clients
//   - FlowStore: authorization-code lifecycle (issue, single-use consume)
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development, testing, and
//     single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage
package storage
