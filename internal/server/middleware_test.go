package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/willvelida/m365-sdk-proxy/internal/auth"
	"github.com/willvelida/m365-sdk-proxy/internal/codec"
	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) codec.ErrorBody {
	t.Helper()
	var body codec.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestCorrelationMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "keeps caller correlation id",
			headers: map[string]string{correlation.HeaderName: "corr-123"},
			want:    "corr-123",
		},
		{
			name:    "falls back to request id",
			headers: map[string]string{RequestIDHeader: "req-456"},
			want:    "req-456",
		},
		{
			name: "prefers correlation id over request id",
			headers: map[string]string{
				correlation.HeaderName: "corr-123",
				RequestIDHeader:        "req-456",
			},
			want: "corr-123",
		},
		{
			name:    "rejects ids with whitespace",
			headers: map[string]string{correlation.HeaderName: "has space"},
		},
		{
			name:    "rejects oversized ids",
			headers: map[string]string{correlation.HeaderName: strings.Repeat("a", maxCorrelationIDLength+1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = correlation.ID(r.Context())
				// A second read must return the same id
				if again := correlation.ID(r.Context()); again != seen {
					t.Errorf("correlation id changed within request: %q then %q", seen, again)
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if tt.want != "" && seen != tt.want {
				t.Errorf("correlation id = %q, want %q", seen, tt.want)
			}
			if seen == "" {
				t.Fatal("no correlation id bound to request")
			}
			if got := rec.Header().Get(correlation.HeaderName); got != seen {
				t.Errorf("response header = %q, want %q", got, seen)
			}
		})
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !ok {
		t.Fatal("expected a request deadline")
	}
	if time.Until(deadline) > 50*time.Millisecond {
		t.Errorf("deadline too far in the future: %v", deadline)
	}

	t.Run("zero disables", func(t *testing.T) {
		handler := TimeoutMiddleware(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				t.Error("unexpected deadline")
			}
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRecoverMiddleware(t *testing.T) {
	handler := CorrelationMiddleware(RecoverMiddleware(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret internal state")
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
	req.Header.Set(correlation.HeaderName, "corr-panic")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	raw := rec.Body.String()
	if strings.Contains(raw, "secret internal state") {
		t.Errorf("panic value leaked into response: %s", raw)
	}

	body := decodeErrorBody(t, rec)
	if body.Error != codec.CodeInternal {
		t.Errorf("error = %q, want %q", body.Error, codec.CodeInternal)
	}
	if body.CorrelationID != "corr-panic" {
		t.Errorf("correlationId = %q, want corr-panic", body.CorrelationID)
	}
}

func TestAuthMiddleware(t *testing.T) {
	validator := auth.NewKeyValidator([]string{auth.HashAPIKey("channel-key")})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := CorrelationMiddleware(AuthMiddleware(validator)(next))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid key", "Bearer channel-key", http.StatusNoContent},
		{"wrong key", "Bearer other-key", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic channel-key", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				body := decodeErrorBody(t, rec)
				if body.Error != codec.CodeAuthentication {
					t.Errorf("error = %q, want %q", body.Error, codec.CodeAuthentication)
				}
				if body.Message != "Authentication failed. Please check your credentials." {
					t.Errorf("message = %q", body.Message)
				}
			}
		})
	}

	t.Run("disabled without keys", func(t *testing.T) {
		handler := AuthMiddleware(auth.NewKeyValidator(nil))(next)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
	})
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := CorrelationMiddleware(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "conversation_id", "conv-1")
		AddLogField(r.Context(), "ignored", "")
		AddError(r.Context(), errors.New("boom"))
		AddError(r.Context(), nil)
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
	req.Header.Set(correlation.HeaderName, "corr-log")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single JSON log line, got %q: %v", buf.String(), err)
	}

	checks := map[string]any{
		"msg":             "request completed",
		"level":           "ERROR",
		"correlation_id":  "corr-log",
		"conversation_id": "conv-1",
		"error":           "boom",
		"status":          float64(http.StatusBadGateway),
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("log field %s = %v, want %v", k, entry[k], want)
		}
	}
	if _, ok := entry["ignored"]; ok {
		t.Error("empty log field should not be emitted")
	}
}

func TestAddLogFieldWithoutMiddleware(t *testing.T) {
	// Must not panic
	AddLogField(context.Background(), "key", "value")
	AddError(context.Background(), errors.New("boom"))
}
