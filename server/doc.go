// Package server implements the authorization server logic: the
// authorization code flow with PKCE, resource owner authentication with
// brute-force lockout, client validation, and access token issuance.
//
// The Server coordinates storage backends (storage.UserStore,
// storage.ClientStore, storage.FlowStore), the password hasher, and the
// token issuer. HTTP plumbing lives in the root package; everything here is
// transport-agnostic.
package server
