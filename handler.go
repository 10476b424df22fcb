package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/EdmundVincent/Oauth/instrumentation"
	"github.com/EdmundVincent/Oauth/internal/util"
	"github.com/EdmundVincent/Oauth/security"
	"github.com/EdmundVincent/Oauth/server"
	"github.com/EdmundVincent/Oauth/token"
)

type contextKey string

// ClaimsContextKey is the request context key under which ValidateToken
// stores the verified token claims.
const ClaimsContextKey contextKey = "oauth_claims"

// Handler serves the OAuth HTTP endpoints
type Handler struct {
	server *server.Server
	logger *slog.Logger
}

// NewHandler creates an HTTP handler around an authorization server
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: srv, logger: logger}
}

// RegisterRoutes registers all endpoints on mux, wrapped with request ID
// propagation.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+AuthorizePath, security.RequestIDMiddleware(http.HandlerFunc(h.Authorize)))
	mux.Handle("POST "+LoginPath, security.RequestIDMiddleware(http.HandlerFunc(h.Login)))
	mux.Handle("POST "+TokenPath, security.RequestIDMiddleware(http.HandlerFunc(h.Token)))
	mux.Handle("POST "+RegisterPath, security.RequestIDMiddleware(http.HandlerFunc(h.RegisterClient)))
	mux.Handle("GET "+MetadataPath, security.RequestIDMiddleware(http.HandlerFunc(h.ServeMetadata)))
}

const loginPageTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Sign in</title>
    <style>
        body { font-family: -apple-system, system-ui, sans-serif; background: #f5f5f5; display: flex; justify-content: center; padding-top: 8vh; }
        .card { background: #fff; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.15); padding: 2rem; width: 320px; }
        h1 { font-size: 1.2rem; margin-top: 0; }
        .client { color: #555; font-size: .9rem; margin-bottom: 1rem; }
        label { display: block; font-size: .85rem; margin-bottom: .25rem; }
        input[type=text], input[type=password] { width: 100%; box-sizing: border-box; padding: .5rem; margin-bottom: 1rem; border: 1px solid #ccc; border-radius: 4px; }
        button { width: 100%; padding: .6rem; border: none; border-radius: 4px; background: #2563eb; color: #fff; font-size: 1rem; cursor: pointer; }
        .error { color: #b91c1c; font-size: .85rem; margin-bottom: 1rem; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Sign in</h1>
        <div class="client">{{.ClientName}} is requesting access{{if .Scope}} to: <strong>{{.Scope}}</strong>{{end}}</div>
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        <form method="POST" action="{{.LoginPath}}">
            <input type="hidden" name="client_id" value="{{.ClientID}}">
            <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
            <input type="hidden" name="state" value="{{.State}}">
            <input type="hidden" name="scope" value="{{.Scope}}">
            <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
            <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
            <label for="username">Username</label>
            <input type="text" id="username" name="username" autocomplete="username" required>
            <label for="password">Password</label>
            <input type="password" id="password" name="password" autocomplete="current-password" required>
            <button type="submit">Sign in</button>
        </form>
    </div>
</body>
</html>`

var loginPageTmpl = template.Must(template.New("login").Parse(loginPageTemplate))

type loginPageData struct {
	ClientName          string
	ClientID            string
	RedirectURI         string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	LoginPath           string
	Error               string
}

// Authorize handles GET /oauth/authorize. It validates the authorization
// request and renders the login form; validation failures never redirect to
// the supplied URI, since the URI itself may be the attack.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if !h.checkRateLimit(w, r) {
		return
	}

	query := r.URL.Query()
	client, err := h.server.Authorize(r.Context(),
		query.Get("client_id"),
		query.Get("redirect_uri"),
		query.Get("response_type"),
		query.Get("scope"),
		query.Get("code_challenge"),
		query.Get("code_challenge_method"),
	)
	if err != nil {
		oauthErr := h.mapServerError(err)
		h.writeError(w, oauthErr)
		h.recordRequest(r, oauthErr.Status, startTime)
		return
	}

	h.renderLoginPage(w, http.StatusOK, loginPageData{
		ClientName:          client.ClientName,
		ClientID:            client.ClientID,
		RedirectURI:         query.Get("redirect_uri"),
		State:               query.Get("state"),
		Scope:               query.Get("scope"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	})
	h.recordRequest(r, http.StatusOK, startTime)
}

// Login handles POST /oauth/login: it authenticates the resource owner,
// issues an authorization code and redirects back to the client. The state
// parameter is echoed back byte for byte.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if !h.checkRateLimit(w, r) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed form body"))
		return
	}

	clientID := r.PostFormValue("client_id")
	redirectURI := r.PostFormValue("redirect_uri")
	state := r.PostFormValue("state")
	scope := r.PostFormValue("scope")
	clientIP := h.clientIP(r)

	code, err := h.server.Login(r.Context(),
		r.PostFormValue("username"),
		r.PostFormValue("password"),
		clientID,
		redirectURI,
		scope,
		r.PostFormValue("code_challenge"),
		r.PostFormValue("code_challenge_method"),
		clientIP,
	)
	if err != nil {
		if errors.Is(err, server.ErrAuthenticationFailed) {
			// Re-render the form with a generic failure message that does
			// not reveal which credential check failed. A plain client
			// lookup, not Authorize: the flow already started on the GET
			// leg and must not be counted again.
			client, clientErr := h.server.GetClient(r.Context(), clientID)
			if clientErr != nil {
				h.writeError(w, h.mapServerError(clientErr))
				return
			}
			h.renderLoginPage(w, http.StatusUnauthorized, loginPageData{
				ClientName:          client.ClientName,
				ClientID:            clientID,
				RedirectURI:         redirectURI,
				State:               state,
				Scope:               scope,
				CodeChallenge:       r.PostFormValue("code_challenge"),
				CodeChallengeMethod: r.PostFormValue("code_challenge_method"),
				Error:               "Invalid username or password.",
			})
			h.recordRequest(r, http.StatusUnauthorized, startTime)
			return
		}
		oauthErr := h.mapServerError(err)
		h.writeError(w, oauthErr)
		h.recordRequest(r, oauthErr.Status, startTime)
		return
	}

	redirect, err := url.Parse(redirectURI)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("invalid redirect_uri"))
		return
	}
	params := redirect.Query()
	params.Set("code", code)
	if state != "" {
		params.Set("state", state)
	}
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
	h.recordRequest(r, http.StatusFound, startTime)
}

// Token handles POST /oauth/token, the authorization code exchange. Client
// credentials are accepted via HTTP Basic auth or form parameters.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if !h.checkRateLimit(w, r) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed form body"))
		return
	}

	grantType := r.PostFormValue("grant_type")
	if grantType != GrantTypeAuthorizationCode {
		h.writeError(w, ErrUnsupportedGrantType(fmt.Sprintf("grant type %q is not supported", grantType)))
		h.recordRequest(r, http.StatusBadRequest, startTime)
		return
	}

	clientID, clientSecret := h.clientCredentials(r)
	if clientID == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		h.writeError(w, ErrInvalidClient("client authentication required"))
		h.recordRequest(r, http.StatusUnauthorized, startTime)
		return
	}

	accessToken, scope, err := h.server.ExchangeAuthorizationCode(r.Context(),
		r.PostFormValue("code"),
		clientID,
		clientSecret,
		r.PostFormValue("redirect_uri"),
		r.PostFormValue("code_verifier"),
		h.clientIP(r),
	)
	if err != nil {
		oauthErr := h.mapServerError(err)
		if oauthErr.Code == ErrorCodeInvalidClient {
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		}
		h.writeError(w, oauthErr)
		h.recordRequest(r, oauthErr.Status, startTime)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(h.server.Tokens().TTL().Seconds()),
		Scope:       scope,
	})
	h.recordRequest(r, http.StatusOK, startTime)
}

// RegisterClient handles POST /oauth/register
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if !h.checkRateLimit(w, r) {
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed JSON body"))
		return
	}

	client, err := h.server.RegisterClient(r.Context(), req.ClientName, req.ClientSecret, req.RedirectURI, req.Scopes)
	if err != nil {
		oauthErr := h.mapServerError(err)
		h.writeError(w, oauthErr)
		h.recordRequest(r, oauthErr.Status, startTime)
		return
	}

	h.writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:    client.ClientID,
		ClientName:  client.ClientName,
		RedirectURI: client.RedirectURI,
		Scopes:      client.Scopes,
	})
	h.recordRequest(r, http.StatusCreated, startTime)
}

// ServeMetadata handles GET /.well-known/oauth-authorization-server
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	issuer := util.NormalizeURL(h.server.Config.Issuer)
	methods := []string{"S256"}
	if h.server.Config.AllowPKCEPlain {
		methods = append(methods, "plain")
	}

	h.writeJSON(w, http.StatusOK, AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + AuthorizePath,
		TokenEndpoint:                     issuer + TokenPath,
		RegistrationEndpoint:              issuer + RegisterPath,
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		CodeChallengeMethodsSupported:     methods,
		ScopesSupported:                   h.server.Config.SupportedScopes,
	})
}

// ValidateToken is middleware that requires a valid bearer token. Verified
// claims are stored in the request context under ClaimsContextKey.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := h.extractBearerToken(w, r)
		if !ok {
			return
		}

		claims, err := h.server.ValidateAccessToken(tokenString)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			h.writeError(w, ErrInvalidToken("the access token is invalid or expired"))
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the token claims stored by ValidateToken
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*token.Claims)
	return claims, ok
}

func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.writeError(w, ErrInvalidToken("missing authorization header"))
		return "", false
	}

	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.writeError(w, ErrInvalidToken("authorization header must use the Bearer scheme"))
		return "", false
	}
	return authHeader[len(prefix):], true
}

// clientCredentials extracts client credentials from HTTP Basic auth,
// falling back to the client_secret_post form parameters.
func (h *Handler) clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		// Basic auth credential components are form-urlencoded (RFC 6749
		// appendix B)
		if decodedID, err := url.QueryUnescape(id); err == nil {
			id = decodedID
		}
		if decodedSecret, err := url.QueryUnescape(secret); err == nil {
			secret = decodedSecret
		}
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// checkRateLimit applies the per-IP rate limit when one is configured.
// Returns false if the request was rejected.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request) bool {
	if h.server.RateLimiter == nil {
		return true
	}

	clientIP := h.clientIP(r)
	if h.server.RateLimiter.Allow(clientIP) {
		return true
	}

	h.logger.Warn("Rate limit exceeded", "path", r.URL.Path)
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, "")
	}
	if m := h.metrics(); m != nil {
		m.RecordRateLimitExceeded(r.Context(), "ip")
	}
	w.Header().Set("Retry-After", "1")
	h.writeError(w, ErrRateLimitExceeded("too many requests"))
	return false
}

// mapServerError translates server-layer sentinel errors into wire-level
// OAuth errors. Descriptions stay generic: the taxonomy code is the only
// detail a caller needs and the only one that is safe to reveal.
func (h *Handler) mapServerError(err error) *OAuthError {
	switch {
	case errors.Is(err, server.ErrInvalidRequest):
		return ErrInvalidRequest("the request is missing a required parameter or is otherwise malformed")
	case errors.Is(err, server.ErrInvalidClient):
		return ErrInvalidClient("client authentication failed")
	case errors.Is(err, server.ErrInvalidScope):
		return ErrInvalidScope("the requested scope is invalid or exceeds what the client may request")
	case errors.Is(err, server.ErrInvalidGrant):
		return ErrInvalidGrant("the authorization grant is invalid, expired or already used")
	case errors.Is(err, server.ErrAuthenticationFailed):
		return ErrAccessDenied("authentication failed")
	default:
		h.logger.Error("Internal error", "error", err)
		return ErrServerError("an internal error occurred")
	}
}

func (h *Handler) renderLoginPage(w http.ResponseWriter, status int, data loginPageData) {
	data.LoginPath = LoginPath
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginPageTmpl.Execute(w, data); err != nil {
		h.logger.Error("Failed to render login page", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	h.writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) metrics() *instrumentation.Metrics {
	if h.server.Instrumentation == nil {
		return nil
	}
	return h.server.Instrumentation.Metrics()
}

func (h *Handler) recordRequest(r *http.Request, status int, startTime time.Time) {
	if m := h.metrics(); m != nil {
		m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, status, float64(time.Since(startTime).Milliseconds()))
	}
}
