// Package security provides the security building blocks for the
// authorization server: password hashing, audit logging with PII
// protection, per-identifier rate limiting, client IP extraction,
// request ID propagation, and secure HTTP response headers.
package security
