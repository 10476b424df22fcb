// Package oauth implements an OAuth 2.0 authorization server issuing access
// tokens through the authorization code grant with PKCE support.
//
// The root package is the HTTP surface: the authorization and login
// endpoints, the token endpoint, client registration, RFC 8414 metadata
// discovery and bearer token middleware. The underlying flow logic lives in
// the server package, token signing in token, persistence behind the
// storage interfaces (with in-memory and Valkey backends), and supporting
// concerns in security and instrumentation.
//
// Minimal usage:
//
//	store := memory.New()
//	srv, err := server.New(store, store, store, &server.Config{
//		Issuer:     "https://auth.example.com",
//		SigningKey: signingKey,
//	}, logger)
//	if err != nil {
//		// ...
//	}
//	handler := oauth.NewHandler(srv, logger)
//	mux := http.NewServeMux()
//	handler.RegisterRoutes(mux)
package oauth
