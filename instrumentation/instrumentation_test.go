package instrumentation

import (
	"context"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
	if inst.Metrics() == nil {
		t.Error("Metrics() should not be nil")
	}
	if inst.MeterProvider() == nil {
		t.Error("MeterProvider() should not be nil")
	}
	if inst.TracerProvider() == nil {
		t.Error("TracerProvider() should not be nil")
	}
}

func TestMetrics_RecordingIsSafe(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// With no-op providers every recording call must be a safe no-op.
	ctx := context.Background()
	m := inst.Metrics()
	m.RecordHTTPRequest(ctx, "POST", "/oauth/token", 200, 1.5)
	m.RecordAuthorizationStarted(ctx, "app1")
	m.RecordLoginAttempt(ctx, "app1", true)
	m.RecordCodeIssued(ctx, "app1")
	m.RecordCodeExchange(ctx, "app1", "S256")
	m.RecordTokenIssued(ctx, "app1")
	m.RecordAccountLockout(ctx)
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordRateLimitExceeded(ctx, "login")
	m.RecordStorageOperation(ctx, "consume_code", "success", 0.2)
	m.RecordAuditEvent(ctx, "token_issued")
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		func() int64 { return 3 },
	)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}
