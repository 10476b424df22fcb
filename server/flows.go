package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EdmundVincent/Oauth/internal/util"
	"github.com/EdmundVincent/Oauth/security"
	"github.com/EdmundVincent/Oauth/storage"
	"github.com/EdmundVincent/Oauth/token"
)

// Authorize validates an authorization request (the GET leg of the flow).
// On success it returns the client so the caller can render the login form;
// any failure rejects the flow before credentials are ever collected.
func (s *Server) Authorize(ctx context.Context, clientID, redirectURI, responseType, scope, codeChallenge, codeChallengeMethod string) (*storage.Client, error) {
	if clientID == "" || redirectURI == "" {
		return nil, fmt.Errorf("%w: client_id and redirect_uri are required", ErrInvalidRequest)
	}
	if responseType != "code" {
		return nil, fmt.Errorf("%w: response_type must be 'code'", ErrInvalidRequest)
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		s.Logger.Warn("Authorization request for unknown client", "client_id", clientID)
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventInvalidRedirect,
				ClientID: clientID,
				Details:  map[string]any{"reason": "unknown_client"},
			})
		}
		return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}

	if err := s.validateRedirectURI(client, redirectURI); err != nil {
		return nil, err
	}
	if err := s.validateScopes(scope); err != nil {
		return nil, err
	}
	if err := s.validateClientScopes(scope, client); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventScopeEscalationAttempt,
				ClientID: clientID,
				Details:  map[string]any{"requested_scope": scope},
			})
		}
		return nil, err
	}

	if s.Config.RequirePKCE && codeChallenge == "" {
		return nil, fmt.Errorf("%w: code_challenge is required", ErrInvalidRequest)
	}
	if codeChallenge != "" {
		if err := s.validateChallengeMethod(codeChallengeMethod); err != nil {
			return nil, err
		}
	}

	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, clientID)
	}
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAuthorizationFlowStarted,
			ClientID: clientID,
			Details:  map[string]any{"scope": scope},
		})
	}

	return client, nil
}

// GetClient returns the registered client for the given ID. Unlike
// Authorize, this is a plain lookup with no flow side effects; the HTTP
// layer uses it to re-render the login form after a failed attempt.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}
	return client, nil
}

// AuthenticateUser checks the resource owner's credentials and maintains the
// brute-force lockout state machine:
//
//   - an active lock fails immediately, without a password comparison
//   - an expired lock is cleared and the failure counter reset before the
//     password is checked (lazy unlock)
//   - success resets the failure counter
//   - failure increments it; reaching the limit locks the account
//
// The per-user mutex makes the read-modify-write of counter and lock time
// atomic per user, so concurrent attempts cannot lose updates.
func (s *Server) AuthenticateUser(ctx context.Context, username, password, clientIP string) error {
	mu := s.userLock(username)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()

	user, err := s.userStore.GetUser(ctx, username)
	if err != nil {
		// Unknown user: burn a comparison anyway so response timing does
		// not reveal whether the account exists.
		_ = security.CompareWithTimingDefense(s.hasher, "", password)
		s.auditAuthFailure(username, "", clientIP, "unknown_user")
		return ErrAuthenticationFailed
	}

	if user.Locked(now) {
		s.auditAuthFailure(username, "", clientIP, "account_locked")
		return ErrAuthenticationFailed
	}

	// Lazy unlock: an expired lock is cleared on the next attempt
	if !user.LockedUntil.IsZero() && !user.LockedUntil.After(now) {
		user.LockedUntil = time.Time{}
		user.FailedAttempts = 0
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventAccountUnlocked,
				UserID:    username,
				IPAddress: clientIP,
			})
		}
	}

	if err := security.CompareWithTimingDefense(s.hasher, user.PasswordHash, password); err != nil {
		user.FailedAttempts++
		if user.FailedAttempts >= s.Config.MaxFailedLogins {
			user.LockedUntil = now.Add(time.Duration(s.Config.LockoutDuration) * time.Second)
			s.Logger.Warn("Account locked after repeated login failures",
				"username", username,
				"failed_attempts", user.FailedAttempts,
				"locked_until", user.LockedUntil)
			if s.Auditor != nil {
				s.Auditor.LogAccountLocked(username, clientIP, user.LockedUntil)
			}
			if m := s.metrics(); m != nil {
				m.RecordAccountLockout(ctx)
			}
		}
		if saveErr := s.userStore.SaveUser(ctx, user); saveErr != nil {
			s.Logger.Error("Failed to persist lockout state", "username", username, "error", saveErr)
		}
		s.auditAuthFailure(username, "", clientIP, "invalid_credentials")
		return ErrAuthenticationFailed
	}

	// Success resets the failure counter
	if user.FailedAttempts != 0 || !user.LockedUntil.IsZero() {
		user.FailedAttempts = 0
		user.LockedUntil = time.Time{}
	}
	if err := s.userStore.SaveUser(ctx, user); err != nil {
		s.Logger.Error("Failed to persist login state", "username", username, "error", err)
	}

	return nil
}

// Login authenticates the resource owner and, on success, issues an
// authorization code bound to the validated request parameters (the POST leg
// of the flow). The redirect URI is revalidated here: hidden form fields are
// client-supplied and cannot be trusted from the GET leg.
func (s *Server) Login(ctx context.Context, username, password, clientID, redirectURI, scope, codeChallenge, codeChallengeMethod, clientIP string) (string, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		s.Logger.Warn("Login for unknown client", "client_id", clientID)
		return "", fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}
	if err := s.validateRedirectURI(client, redirectURI); err != nil {
		return "", err
	}

	err = s.AuthenticateUser(ctx, username, password, clientIP)
	if m := s.metrics(); m != nil {
		m.RecordLoginAttempt(ctx, clientID, err == nil)
	}
	if err != nil {
		return "", err
	}

	code := generateRandomToken()
	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:                code,
		Username:            username,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}
	if err := s.flowStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Logger.Info("Authorization code issued",
		"username", username,
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, 8))
	if s.Auditor != nil {
		s.Auditor.LogAuthorizationCodeIssued(username, clientID, clientIP, scope)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, clientID)
	}

	return code, nil
}

// AuthenticateClient verifies the client's secret. Unknown clients and bad
// secrets are indistinguishable, and both cost a hash comparison so timing
// does not leak which one happened.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		_ = security.CompareWithTimingDefense(s.hasher, "", clientSecret)
		s.auditAuthFailure("", clientID, "", "unknown_client")
		return nil, fmt.Errorf("%w: client authentication failed", ErrInvalidClient)
	}

	if err := security.CompareWithTimingDefense(s.hasher, client.ClientSecretHash, clientSecret); err != nil {
		s.auditAuthFailure("", clientID, "", "invalid_client_secret")
		return nil, fmt.Errorf("%w: client authentication failed", ErrInvalidClient)
	}

	return client, nil
}

// ExchangeAuthorizationCode exchanges an authorization code for an access
// token (the token endpoint leg). The consume is atomic: a replayed or
// contested code fails for every caller but one. Every rejection maps to
// invalid_grant so callers learn nothing about why.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, clientSecret, redirectURI, codeVerifier, clientIP string) (string, string, error) {
	if code == "" {
		return "", "", fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	if _, err := s.AuthenticateClient(ctx, clientID, clientSecret); err != nil {
		return "", "", err
	}

	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		// Unknown, expired and replayed codes land here alike. A replay
		// is the interesting case for the audit trail, but the store
		// cannot tell them apart once the code is gone, so log them under
		// one event.
		s.Logger.Debug("Authorization code rejected",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, 8))
		if s.Auditor != nil {
			s.Auditor.LogCodeReuse(clientID, clientIP)
		}
		if m := s.metrics(); m != nil {
			m.RecordCodeReuseDetected(ctx)
		}
		return "", "", fmt.Errorf("%w: authorization code is invalid", ErrInvalidGrant)
	}

	if authCode.ClientID != clientID {
		s.Logger.Debug("Authorization code client mismatch",
			"expected_client_id", authCode.ClientID,
			"provided_client_id", clientID)
		s.auditAuthFailure(authCode.Username, clientID, clientIP, "client_id_mismatch")
		return "", "", fmt.Errorf("%w: authorization code is invalid", ErrInvalidGrant)
	}

	// Anti-hijacking: a redirect_uri supplied at exchange must match the
	// one the code was issued against.
	if redirectURI != "" && redirectURI != authCode.RedirectURI {
		s.Logger.Debug("Authorization code redirect mismatch",
			"client_id", clientID,
			"expected_uri", authCode.RedirectURI,
			"provided_uri", redirectURI)
		s.auditAuthFailure(authCode.Username, clientID, clientIP, "redirect_uri_mismatch")
		return "", "", fmt.Errorf("%w: authorization code is invalid", ErrInvalidGrant)
	}

	if err := s.validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogPKCEFailure(clientID, clientIP, authCode.CodeChallengeMethod)
		}
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		}
		return "", "", fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}

	accessToken, err := s.tokens.Issue(authCode.Username, authCode.Scope, clientID)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue access token: %w", err)
	}

	s.Logger.Info("Access token issued",
		"username", authCode.Username,
		"client_id", clientID,
		"scope", authCode.Scope)
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.Username, clientID, clientIP, authCode.Scope)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, clientID, authCode.CodeChallengeMethod)
		m.RecordTokenIssued(ctx, clientID)
	}

	return accessToken, authCode.Scope, nil
}

// ValidateAccessToken verifies a bearer token and returns its claims.
// Validity is carried entirely in the signed payload; no store is consulted.
func (s *Server) ValidateAccessToken(tokenString string) (*token.Claims, error) {
	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// RegisterClient registers a new client with a generated client ID and a
// hashed secret.
func (s *Server) RegisterClient(ctx context.Context, name, secret, redirectURI string, scopes []string) (*storage.Client, error) {
	if redirectURI == "" {
		return nil, fmt.Errorf("%w: redirect_uri is required", ErrInvalidRequest)
	}

	secretHash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}

	client := &storage.Client{
		ClientID:         uuid.NewString(),
		ClientSecretHash: secretHash,
		RedirectURI:      redirectURI,
		ClientName:       name,
		Scopes:           scopes,
		CreatedAt:        time.Now(),
	}
	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	s.Logger.Info("Client registered", "client_id", client.ClientID, "client_name", name)
	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, "")
	}
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx)
	}

	return client, nil
}

// CreateUser creates a user with a hashed password. Intended for seeding
// and administrative tooling; there is no self-service signup flow.
func (s *Server) CreateUser(ctx context.Context, username, password string) (*storage.User, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &storage.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	if err := s.userStore.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	return user, nil
}

// auditAuthFailure logs an authentication failure if an auditor is set
func (s *Server) auditAuthFailure(userID, clientID, ipAddress, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure(userID, clientID, ipAddress, reason)
	}
}
