package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/EdmundVincent/Oauth/security"
	"github.com/EdmundVincent/Oauth/storage"
)

// PKCE code challenge methods (RFC 7636)
const (
	// PKCEMethodS256 is the SHA-256 based challenge method (recommended)
	PKCEMethodS256 = "S256"

	// PKCEMethodPlain is the plain-text challenge method. An absent
	// code_challenge_method is treated as plain per RFC 7636 section 4.3.
	PKCEMethodPlain = "plain"
)

// validateRedirectURI checks that redirectURI byte-exactly matches the
// client's registered redirect URI. A mismatch is logged as a security
// warning: it is either a misconfigured client or an attempted redirect
// hijack.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	if client.RedirectURI == redirectURI {
		return nil
	}

	s.Logger.Warn("Redirect URI mismatch",
		"client_id", client.ClientID,
		"registered_uri", client.RedirectURI,
		"requested_uri", redirectURI)

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventInvalidRedirect,
			ClientID: client.ClientID,
		})
	}

	return fmt.Errorf("%w: redirect URI not registered for client", ErrInvalidClient)
}

// validateScopes validates requested scopes against the server's supported
// scope list. An empty SupportedScopes configuration allows everything.
func (s *Server) validateScopes(scope string) error {
	if len(s.Config.SupportedScopes) == 0 || scope == "" {
		return nil
	}

	for _, reqScope := range strings.Fields(scope) {
		found := false
		for _, supported := range s.Config.SupportedScopes {
			if reqScope == supported {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: unsupported scope", ErrInvalidScope)
		}
	}
	return nil
}

// validateClientScopes checks that the requested scopes are a subset of the
// scopes the client registered for. Clients registered without scope
// restrictions may request anything the server supports.
func (s *Server) validateClientScopes(requestedScope string, client *storage.Client) error {
	if len(client.Scopes) == 0 || requestedScope == "" {
		return nil
	}

	for _, reqScope := range strings.Fields(requestedScope) {
		if !client.AllowsScope(reqScope) {
			// Generic message: revealing which scope was rejected would
			// let callers enumerate the client's allowed scopes.
			return fmt.Errorf("%w: client is not authorized for one or more requested scopes", ErrInvalidScope)
		}
	}
	return nil
}

// validateChallengeMethod checks the code_challenge_method parameter at
// authorization time so unsupported methods are rejected before a code is
// ever issued.
func (s *Server) validateChallengeMethod(method string) error {
	switch method {
	case "", PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("%w: plain code_challenge_method is not allowed", ErrInvalidRequest)
		}
		return nil
	case PKCEMethodS256:
		return nil
	default:
		return fmt.Errorf("%w: unsupported code_challenge_method", ErrInvalidRequest)
	}
}

// validatePKCE verifies a code_verifier against the challenge stored at
// issuance. A blank stored challenge means PKCE was not requested and the
// check trivially passes. A blank method defaults to plain per RFC 7636.
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	var computedChallenge string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])

	case "", PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("plain code_challenge_method is not allowed")
		}
		computedChallenge = verifier
		s.Logger.Warn("Using insecure 'plain' PKCE method",
			"recommendation", "Upgrade client to use S256")

	default:
		// Unknown method on a stored code is a rejection, not a pass
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	// Constant-time comparison to prevent timing side channels
	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}
