// Package token issues and verifies the bearer access tokens returned by the
// token endpoint. Tokens are signed JWTs (HS256) and carry the subject,
// granted scope and audience; they are stateless, so verification needs only
// the signing key.
package token

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuerName is the iss claim stamped on every token.
const DefaultIssuerName = "oauth-server"

// DefaultAccessTokenTTL is the lifetime of an access token.
const DefaultAccessTokenTTL = time.Hour

var (
	// ErrInvalidToken is returned when a token fails signature or claim
	// validation. Expired, tampered and malformed tokens are deliberately
	// indistinguishable to callers.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the registered JWT claims plus the scope granted to the client.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Issuer creates and verifies signed access tokens.
type Issuer struct {
	signingKey []byte
	issuerName string
	ttl        time.Duration
	leeway     time.Duration
	logger     *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithIssuerName overrides the iss claim value.
func WithIssuerName(name string) Option {
	return func(i *Issuer) { i.issuerName = name }
}

// WithTTL overrides the access token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) { i.ttl = ttl }
}

// WithLeeway sets the clock skew tolerance applied during verification.
func WithLeeway(leeway time.Duration) Option {
	return func(i *Issuer) { i.leeway = leeway }
}

// WithLogger sets the logger used for verification failures.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) { i.logger = logger }
}

// NewIssuer creates an Issuer signing with the given HMAC key. The key must
// not be empty.
func NewIssuer(signingKey []byte, opts ...Option) (*Issuer, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key must not be empty")
	}

	i := &Issuer{
		signingKey: signingKey,
		issuerName: DefaultIssuerName,
		ttl:        DefaultAccessTokenTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the configured access token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue creates a signed token for subject with the given scope, addressed
// to audience (the client ID). The token expires after the configured TTL.
func (i *Issuer) Issue(subject, scope, audience string) (string, error) {
	now := time.Now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuerName,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string, checking the HS256 signature,
// issuer and expiry. It returns the claims on success and ErrInvalidToken on
// any failure.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return i.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.leeway),
	)
	if err != nil {
		i.logger.Debug("Token verification failed", "error", err)
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractSubject verifies the token and returns its subject claim.
func (i *Issuer) ExtractSubject(tokenString string) (string, error) {
	claims, err := i.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ExtractScope verifies the token and returns its scope claim.
func (i *Issuer) ExtractScope(tokenString string) (string, error) {
	claims, err := i.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Scope, nil
}
