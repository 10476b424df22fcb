package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/EdmundVincent/Oauth/instrumentation"
	"github.com/EdmundVincent/Oauth/security"
	"github.com/EdmundVincent/Oauth/storage"
	"github.com/EdmundVincent/Oauth/token"
)

// Server implements the authorization server logic. It coordinates the
// storage backends, the password hasher and the token issuer.
type Server struct {
	userStore   storage.UserStore
	clientStore storage.ClientStore
	flowStore   storage.FlowStore

	hasher security.PasswordHasher
	tokens *token.Issuer

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	// userLocks serializes the read-modify-write of per-user lockout state
	// so concurrent login attempts for the same user cannot lose counter
	// updates. One mutex per username, allocated lazily.
	userLocks sync.Map // username -> *sync.Mutex
}

// New creates a new authorization server
func New(
	userStore storage.UserStore,
	clientStore storage.ClientStore,
	flowStore storage.FlowStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if len(config.SigningKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}

	issuer, err := token.NewIssuer(config.SigningKey,
		token.WithTTL(time.Duration(config.AccessTokenTTL)*time.Second),
		token.WithLeeway(time.Duration(config.ClockSkewGracePeriod)*time.Second),
		token.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	srv := &Server{
		userStore:   userStore,
		clientStore: clientStore,
		flowStore:   flowStore,
		hasher:      security.NewBcryptHasher(config.BcryptCost),
		tokens:      issuer,
		Logger:      logger,
		Config:      config,
	}
	if config.EnableAudit {
		srv.Auditor = security.NewAuditor(logger, true)
	}
	return srv, nil
}

// SetAuditor replaces the auditor built by New, for callers that want audit
// events on a separate logger.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	if s.Instrumentation != nil && aud != nil {
		aud.SetMetricsRecorder(s.Instrumentation.Metrics())
	}
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets OpenTelemetry instrumentation. If an auditor is
// present, audit events are counted in the metrics from here on.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil && s.Auditor != nil {
		s.Auditor.SetMetricsRecorder(inst.Metrics())
	}
}

// SetPasswordHasher replaces the default bcrypt hasher. The same hasher is
// used for user passwords and client secrets.
func (s *Server) SetPasswordHasher(h security.PasswordHasher) {
	if h != nil {
		s.hasher = h
	}
}

// Hasher returns the password hasher in use, for callers that seed users
// and clients.
func (s *Server) Hasher() security.PasswordHasher {
	return s.hasher
}

// Tokens returns the access token issuer.
func (s *Server) Tokens() *token.Issuer {
	return s.tokens
}

// userLock returns the mutex guarding the given user's lockout state.
func (s *Server) userLock(username string) *sync.Mutex {
	mu, _ := s.userLocks.LoadOrStore(username, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier which produces a URL-safe
// base64 string with 256 bits of entropy, suitable for authorization codes.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// recordMetric is a nil-safe helper to reach metric recording
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}
