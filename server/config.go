package server

import (
	"log/slog"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// SigningKey is the symmetric key used to sign access tokens.
	// Loaded once at startup; never rotated at runtime.
	SigningKey []byte

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// MaxFailedLogins is the number of consecutive failed login attempts
	// after which an account is locked
	MaxFailedLogins int // default: 5

	// LockoutDuration is how long a locked account stays locked (in seconds)
	LockoutDuration int64 // seconds, default: 900 (15 minutes)

	// ClockSkewGracePeriod is the grace period for token expiration checks
	// (in seconds). Absorbs time synchronization drift between hosts.
	ClockSkewGracePeriod int64 // seconds, default: 5

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// WARNING: Only enable behind a trusted reverse proxy.
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to extract the client IP.
	// Default: 1
	TrustedProxyCount int

	// SupportedScopes lists the scopes the server accepts.
	// If empty, all scopes are allowed.
	SupportedScopes []string

	// AllowPKCEPlain allows the 'plain' code_challenge_method.
	// The plain method is weaker than S256 but kept on by default for
	// compatibility with clients that cannot hash; an absent
	// code_challenge_method is treated as plain per RFC 7636.
	// Default: true
	AllowPKCEPlain bool

	// RequirePKCE makes the code_challenge parameter mandatory on
	// authorization requests. Confidential clients authenticating with a
	// secret may omit PKCE, so this defaults to off.
	// Default: false
	RequirePKCE bool

	// BcryptCost is the bcrypt cost used when hashing new credentials.
	// 0 selects bcrypt.DefaultCost.
	BcryptCost int

	// EnableAudit enables security audit logging
	EnableAudit bool
}

// applySecureDefaults fills in defaults and logs warnings for settings that
// weaken the server's security posture.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.MaxFailedLogins == 0 {
		config.MaxFailedLogins = 5
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = 900 // 15 minutes
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
}

// logSecurityWarnings logs warnings for configuration that trades security
// for compatibility.
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowPKCEPlain {
		logger.Warn("Plain PKCE method is allowed",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256")
	}
	if !config.RequirePKCE {
		logger.Warn("PKCE is optional",
			"risk", "Authorization code interception for clients that skip PKCE",
			"recommendation", "Set RequirePKCE=true where all clients support it")
	}
	if config.TrustProxy {
		logger.Warn("Trusting proxy headers",
			"risk", "IP spoofing if the proxy chain is misconfigured",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
}
