// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server. When disabled, no-op providers are used so the
// instrumented code paths carry zero overhead.
//
// Metric instruments cover the HTTP layer (request counts and latency), the
// OAuth flow (authorizations, logins, code issuance and exchange, token
// issuance), security events (PKCE failures, code reuse, lockouts, rate
// limiting) and the storage layer (operation counts, latency, and size
// gauges).
//
// SECURITY: never record actual credential values (authorization codes,
// access tokens, passwords, client secrets) in metric attributes or span
// attributes. Record metadata only: identifiers, methods, results.
package instrumentation
