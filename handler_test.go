package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/EdmundVincent/Oauth/security"
	"github.com/EdmundVincent/Oauth/server"
	"github.com/EdmundVincent/Oauth/storage"
	"github.com/EdmundVincent/Oauth/storage/memory"
)

const (
	testUsername    = "alice"
	testPassword    = "password123"
	testClientID    = "app1"
	testSecret      = "app1-secret"
	testRedirectURI = "http://localhost:9000/callback"
)

type testFixture struct {
	handler *Handler
	server  *server.Server
	store   *memory.Store
	mux     *http.ServeMux
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	store := memory.NewWithInterval(0)
	t.Cleanup(store.Stop)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := server.New(store, store, store, &server.Config{
		Issuer:         "http://localhost:8080",
		SigningKey:     []byte("test-signing-key-32-bytes-long!!"),
		AllowPKCEPlain: true,
		BcryptCost:     bcrypt.MinCost,
	}, logger)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	ctx := context.Background()
	if _, err := srv.CreateUser(ctx, testUsername, testPassword); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	secretHash, err := srv.Hasher().Hash(testSecret)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	err = store.SaveClient(ctx, &storage.Client{
		ClientID:         testClientID,
		ClientSecretHash: secretHash,
		RedirectURI:      testRedirectURI,
		ClientName:       "Test App",
		CreatedAt:        time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	handler := NewHandler(srv, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &testFixture{handler: handler, server: srv, store: store, mux: mux}
}

// authorize performs the GET leg and asserts the login form is served
func (f *testFixture) authorize(t *testing.T, params url.Values) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s status = %d, body = %s", AuthorizePath, rec.Code, rec.Body.String())
	}
	return rec.Body.String()
}

// login performs the POST leg and returns the code from the redirect
func (f *testFixture) login(t *testing.T, form url.Values) *url.URL {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("POST %s status = %d, body = %s", LoginPath, rec.Code, rec.Body.String())
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location header: %v", err)
	}
	return location
}

// exchange posts to the token endpoint with form-based client auth
func (f *testFixture) exchange(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, TokenPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v, body = %s", err, rec.Body.String())
	}
	return resp
}

func TestFullAuthorizationCodeFlow(t *testing.T) {
	f := newTestFixture(t)

	// GET leg serves a login form carrying the request parameters
	body := f.authorize(t, url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"state":         {"xyz-state-123"},
		"scope":         {"read"},
	})
	for _, want := range []string{`name="client_id" value="app1"`, `name="state" value="xyz-state-123"`, "Test App"} {
		if !strings.Contains(body, want) {
			t.Errorf("login page missing %q", want)
		}
	}

	// POST leg redirects with a code and echoes state verbatim
	location := f.login(t, url.Values{
		"username":     {testUsername},
		"password":     {testPassword},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
		"state":        {"xyz-state-123"},
		"scope":        {"read"},
	})
	if got := location.Query().Get("state"); got != "xyz-state-123" {
		t.Errorf("state = %q, want %q", got, "xyz-state-123")
	}
	code := location.Query().Get("code")
	if code == "" {
		t.Fatal("redirect carries no code")
	}

	// Token leg exchanges the code
	rec := f.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {testClientID},
		"client_secret": {testSecret},
		"redirect_uri":  {testRedirectURI},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var tokenResp TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tokenResp); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if tokenResp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", tokenResp.TokenType)
	}
	if tokenResp.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", tokenResp.ExpiresIn)
	}
	if tokenResp.Scope != "read" {
		t.Errorf("scope = %q, want read", tokenResp.Scope)
	}

	claims, err := f.server.ValidateAccessToken(tokenResp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Subject != testUsername {
		t.Errorf("sub = %q, want %q", claims.Subject, testUsername)
	}
	if claims.Issuer != "oauth-server" {
		t.Errorf("iss = %q, want oauth-server", claims.Issuer)
	}
}

func TestTokenEndpointCodeReplay(t *testing.T) {
	f := newTestFixture(t)

	location := f.login(t, url.Values{
		"username":     {testUsername},
		"password":     {testPassword},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
	})
	code := location.Query().Get("code")

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {testClientID},
		"client_secret": {testSecret},
	}
	if rec := f.exchange(t, form); rec.Code != http.StatusOK {
		t.Fatalf("first exchange status = %d", rec.Code)
	}

	rec := f.exchange(t, form)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("replay status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rec); resp.Error != ErrorCodeInvalidGrant {
		t.Errorf("replay error = %q, want %q", resp.Error, ErrorCodeInvalidGrant)
	}
}

func TestTokenEndpointPKCE(t *testing.T) {
	f := newTestFixture(t)

	issueWithChallenge := func(t *testing.T, challenge, method string) string {
		t.Helper()
		location := f.login(t, url.Values{
			"username":              {testUsername},
			"password":              {testPassword},
			"client_id":             {testClientID},
			"redirect_uri":          {testRedirectURI},
			"code_challenge":        {challenge},
			"code_challenge_method": {method},
		})
		return location.Query().Get("code")
	}

	t.Run("S256 succeeds with matching verifier", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		code := issueWithChallenge(t, oauth2.S256ChallengeFromVerifier(verifier), "S256")
		rec := f.exchange(t, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {testClientID},
			"client_secret": {testSecret},
			"code_verifier": {verifier},
		})
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("S256 rejects wrong verifier", func(t *testing.T) {
		code := issueWithChallenge(t, oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()), "S256")
		rec := f.exchange(t, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {testClientID},
			"client_secret": {testSecret},
			"code_verifier": {oauth2.GenerateVerifier()},
		})
		if resp := decodeError(t, rec); resp.Error != ErrorCodeInvalidGrant {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidGrant)
		}
	})

	t.Run("blank method validated as plain", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		code := issueWithChallenge(t, verifier, "")
		rec := f.exchange(t, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {testClientID},
			"client_secret": {testSecret},
			"code_verifier": {verifier},
		})
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})
}

func TestTokenEndpointRejections(t *testing.T) {
	f := newTestFixture(t)

	t.Run("unsupported grant type", func(t *testing.T) {
		rec := f.exchange(t, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {testClientID},
			"client_secret": {testSecret},
		})
		if resp := decodeError(t, rec); resp.Error != ErrorCodeUnsupportedGrantType {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeUnsupportedGrantType)
		}
	})

	t.Run("missing client credentials", func(t *testing.T) {
		rec := f.exchange(t, url.Values{
			"grant_type": {"authorization_code"},
			"code":       {"whatever"},
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Error("missing WWW-Authenticate header")
		}
	})

	t.Run("wrong client secret", func(t *testing.T) {
		rec := f.exchange(t, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {"whatever"},
			"client_id":     {testClientID},
			"client_secret": {"wrong"},
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
		if resp := decodeError(t, rec); resp.Error != ErrorCodeInvalidClient {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidClient)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		rec := f.exchange(t, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {"no-such-code"},
			"client_id":     {testClientID},
			"client_secret": {testSecret},
		})
		if resp := decodeError(t, rec); resp.Error != ErrorCodeInvalidGrant {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidGrant)
		}
	})
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	f := newTestFixture(t)

	location := f.login(t, url.Values{
		"username":     {testUsername},
		"password":     {testPassword},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
	})
	code := location.Query().Get("code")

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	req := httptest.NewRequest(http.MethodPost, TokenPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testSecret)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuthorizeEndpointRejections(t *testing.T) {
	f := newTestFixture(t)

	tests := []struct {
		name      string
		params    url.Values
		wantCode  string
		wantError string
	}{
		{
			name: "redirect URI mismatch is not redirected",
			params: url.Values{
				"response_type": {"code"},
				"client_id":     {testClientID},
				"redirect_uri":  {"http://evil.example/cb"},
			},
			wantError: ErrorCodeInvalidClient,
		},
		{
			name: "unknown client",
			params: url.Values{
				"response_type": {"code"},
				"client_id":     {"nonexistent"},
				"redirect_uri":  {testRedirectURI},
			},
			wantError: ErrorCodeInvalidClient,
		},
		{
			name: "wrong response type",
			params: url.Values{
				"response_type": {"token"},
				"client_id":     {testClientID},
				"redirect_uri":  {testRedirectURI},
			},
			wantError: ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+tt.params.Encode(), nil)
			rec := httptest.NewRecorder()
			f.mux.ServeHTTP(rec, req)

			if rec.Code == http.StatusFound {
				t.Fatal("validation failure must not redirect to the supplied URI")
			}
			if resp := decodeError(t, rec); resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}

func TestLoginEndpointBadPassword(t *testing.T) {
	f := newTestFixture(t)

	form := url.Values{
		"username":     {testUsername},
		"password":     {"wrong"},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
		"state":        {"keep-me"},
	}
	req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	body := rec.Body.String()
	// The failure message is generic, and the form is re-rendered with the
	// original parameters so the user can retry
	if !strings.Contains(body, "Invalid username or password") {
		t.Error("missing generic failure message")
	}
	if !strings.Contains(body, `name="state" value="keep-me"`) {
		t.Error("state lost on failed login")
	}
}

func TestLoginEndpointBadPasswordAuditsOnce(t *testing.T) {
	f := newTestFixture(t)

	var audit bytes.Buffer
	f.server.SetAuditor(security.NewAuditor(slog.New(slog.NewTextHandler(&audit, nil)), true))

	form := url.Values{
		"username":     {testUsername},
		"password":     {"wrong"},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
	}
	req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	// The failed POST re-renders the form via a plain client lookup. The
	// flow already started on the GET leg, so no second flow-start event
	// may appear here, only the authentication failure itself.
	log := audit.String()
	if !strings.Contains(log, security.EventAuthFailure) {
		t.Errorf("audit log missing %q event:\n%s", security.EventAuthFailure, log)
	}
	if strings.Contains(log, security.EventAuthorizationFlowStarted) {
		t.Errorf("failed login emitted a %q event:\n%s", security.EventAuthorizationFlowStarted, log)
	}
}

func TestLoginEndpointLockout(t *testing.T) {
	f := newTestFixture(t)

	badForm := url.Values{
		"username":     {testUsername},
		"password":     {"wrong"},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
	}
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(badForm.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, rec.Code, http.StatusUnauthorized)
		}
	}

	// The account is now locked: the correct password is rejected too
	goodForm := url.Values{
		"username":     {testUsername},
		"password":     {testPassword},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
	}
	req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(goodForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("locked account login status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRegisterClientEndpoint(t *testing.T) {
	f := newTestFixture(t)

	body := `{"client_name":"New App","client_secret":"s3cret","redirect_uri":"http://localhost:7000/cb","scopes":["read"]}`
	req := httptest.NewRequest(http.MethodPost, RegisterPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ClientRegistrationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ClientID == "" {
		t.Error("empty client_id in registration response")
	}
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Error("registration response leaks the client secret")
	}
}

func TestServeMetadata(t *testing.T) {
	f := newTestFixture(t)

	req := httptest.NewRequest(http.MethodGet, MetadataPath, nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var meta AuthorizationServerMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta.Issuer != "http://localhost:8080" {
		t.Errorf("issuer = %q", meta.Issuer)
	}
	if meta.TokenEndpoint != "http://localhost:8080"+TokenPath {
		t.Errorf("token_endpoint = %q", meta.TokenEndpoint)
	}
	if len(meta.GrantTypesSupported) != 1 || meta.GrantTypesSupported[0] != "authorization_code" {
		t.Errorf("grant_types_supported = %v", meta.GrantTypesSupported)
	}
	found := false
	for _, m := range meta.CodeChallengeMethodsSupported {
		if m == "S256" {
			found = true
		}
	}
	if !found {
		t.Errorf("code_challenge_methods_supported = %v, missing S256", meta.CodeChallengeMethodsSupported)
	}
}

func TestValidateTokenMiddleware(t *testing.T) {
	f := newTestFixture(t)

	protected := f.handler.ValidateToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("claims missing from request context")
			return
		}
		_, _ = w.Write([]byte(claims.Subject))
	}))

	accessToken, err := f.server.Tokens().Issue(testUsername, "read", testClientID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.String() != testUsername {
			t.Errorf("subject = %q, want %q", rec.Body.String(), testUsername)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("tampered token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken+"x")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})
}
