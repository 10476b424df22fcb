package server

import (
	"io"
	"log/slog"
	"testing"
)

func TestApplySecureDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	config := applySecureDefaults(&Config{}, logger)

	if config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", config.AccessTokenTTL)
	}
	if config.MaxFailedLogins != 5 {
		t.Errorf("MaxFailedLogins = %d, want 5", config.MaxFailedLogins)
	}
	if config.LockoutDuration != 900 {
		t.Errorf("LockoutDuration = %d, want 900", config.LockoutDuration)
	}
	if config.ClockSkewGracePeriod != 5 {
		t.Errorf("ClockSkewGracePeriod = %d, want 5", config.ClockSkewGracePeriod)
	}
	if config.TrustedProxyCount != 1 {
		t.Errorf("TrustedProxyCount = %d, want 1", config.TrustedProxyCount)
	}
}

func TestApplySecureDefaultsKeepsExplicitValues(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	config := applySecureDefaults(&Config{
		AuthorizationCodeTTL: 60,
		AccessTokenTTL:       120,
		MaxFailedLogins:      10,
		LockoutDuration:      30,
	}, logger)

	if config.AuthorizationCodeTTL != 60 {
		t.Errorf("AuthorizationCodeTTL = %d, want 60", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 120 {
		t.Errorf("AccessTokenTTL = %d, want 120", config.AccessTokenTTL)
	}
	if config.MaxFailedLogins != 10 {
		t.Errorf("MaxFailedLogins = %d, want 10", config.MaxFailedLogins)
	}
	if config.LockoutDuration != 30 {
		t.Errorf("LockoutDuration = %d, want 30", config.LockoutDuration)
	}
}

func TestNewRequiresStoresAndKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, store := newTestServer(t, nil)
	_ = srv

	if _, err := New(nil, store, store, &Config{SigningKey: []byte("k")}, logger); err == nil {
		t.Error("New() accepted a nil user store")
	}
	if _, err := New(store, nil, store, &Config{SigningKey: []byte("k")}, logger); err == nil {
		t.Error("New() accepted a nil client store")
	}
	if _, err := New(store, store, nil, &Config{SigningKey: []byte("k")}, logger); err == nil {
		t.Error("New() accepted a nil flow store")
	}
	if _, err := New(store, store, store, &Config{}, logger); err == nil {
		t.Error("New() accepted an empty signing key")
	}
}

func TestNewEnableAudit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, store := newTestServer(t, nil)

	srv, err := New(store, store, store, &Config{
		SigningKey:  []byte("test-signing-key-32-bytes-long!!"),
		EnableAudit: true,
	}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Auditor == nil {
		t.Error("EnableAudit did not construct an auditor")
	}

	srv, err = New(store, store, store, &Config{
		SigningKey: []byte("test-signing-key-32-bytes-long!!"),
	}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Auditor != nil {
		t.Error("auditor constructed without EnableAudit")
	}
}
