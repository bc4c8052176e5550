package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/receipts", nil)
	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, req)

	if seen == "" {
		t.Error("request ID not set on context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("X-Request-ID header = %q, context = %q", got, seen)
	}
}

func TestRequestID_PreservesClientHeader(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/receipts", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, req)

	if seen != "req-123" {
		t.Errorf("request ID = %q, want req-123", seen)
	}
}

func TestRecovery_LogsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	// Same nesting the server uses: RequestID outside Recovery, so the
	// panic log carries the request ID.
	handler := RequestID(Recovery(log)(panicky))

	req := httptest.NewRequest(http.MethodGet, "/api/receipts", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log entry: %v", err)
	}
	if entry["request_id"] != "req-123" {
		t.Errorf("panic log request_id = %v, want req-123", entry["request_id"])
	}
}
