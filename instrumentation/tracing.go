package instrumentation

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY: never set these to actual credential values (authorization
// codes, access tokens, passwords, client secrets). Traces outlive requests,
// are replicated across monitoring systems and are visible to wider
// audiences than production secrets should ever reach. Record metadata only.
const (
	// OAuth flow attributes
	AttrClientID     = "oauth.client_id"     // Client identifier (non-secret)
	AttrUserID       = "oauth.user_id"       // User identifier (non-secret)
	AttrScope        = "oauth.scope"         // Requested scopes
	AttrPKCEMethod   = "oauth.pkce.method"   // PKCE method used (S256, plain)
	AttrGrantType    = "oauth.grant_type"    // OAuth grant type
	AttrResponseType = "oauth.response_type" // OAuth response type
	AttrRedirectURI  = "oauth.redirect_uri"  // Redirect URI
	AttrCodeReuse    = "oauth.code.reuse"    // Whether code reuse was detected (boolean)
	AttrError        = "oauth.error"         // Error code

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}
