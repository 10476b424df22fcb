package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if len(id1) != 22 {
		t.Errorf("GenerateRequestID() length = %d, want 22", len(id1))
	}
	if id1 == id2 {
		t.Error("GenerateRequestID() returned duplicate IDs")
	}
	if !requestIDPattern.MatchString(id1) {
		t.Errorf("GenerateRequestID() = %q, not a valid request ID", id1)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		upstreamID   string
		wantUpstream bool
	}{
		{
			name:         "no upstream ID generates one",
			upstreamID:   "",
			wantUpstream: false,
		},
		{
			name:         "valid upstream ID preserved",
			upstreamID:   "upstream-abc_123",
			wantUpstream: true,
		},
		{
			name:         "malformed upstream ID replaced",
			upstreamID:   "bad\r\nid",
			wantUpstream: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upstreamID != "" {
				req.Header.Set(RequestIDHeader, tt.upstreamID)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			respID := rec.Header().Get(RequestIDHeader)
			if respID == "" {
				t.Fatal("response is missing X-Request-ID")
			}
			if respID != ctxID {
				t.Errorf("context ID %q does not match response header %q", ctxID, respID)
			}

			if tt.wantUpstream && respID != tt.upstreamID {
				t.Errorf("request ID = %q, want upstream %q preserved", respID, tt.upstreamID)
			}
			if !tt.wantUpstream && respID == tt.upstreamID {
				t.Errorf("request ID %q should have been replaced", respID)
			}
		})
	}
}
