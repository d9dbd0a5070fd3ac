package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/willvelida/m365-sdk-proxy/internal/codec"
	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
)

// maxCorrelationIDLength bounds caller-supplied correlation ids.
const maxCorrelationIDLength = 128

// RequestIDHeader is accepted as a fallback source of the correlation id.
const RequestIDHeader = "X-Request-ID"

// CorrelationMiddleware binds a correlation id to every request. A usable
// X-Correlation-ID (or X-Request-ID) from the caller is kept; otherwise a
// new id is generated. The id is echoed in the response header.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := inboundCorrelationID(r)
		if id == "" {
			id = correlation.New()
		}
		ctx := correlation.WithID(r.Context(), id)
		w.Header().Set(correlation.HeaderName, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func inboundCorrelationID(r *http.Request) string {
	for _, h := range []string{correlation.HeaderName, RequestIDHeader} {
		if id := r.Header.Get(h); usableID(id) {
			return id
		}
	}
	return ""
}

func usableID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// TimeoutMiddleware enforces request timeouts.
// If a request exceeds the specified timeout, the context is cancelled.
// Note: This does not forcibly terminate the handler, it relies on the handler
// checking context.Done() for cooperative cancellation.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecoverMiddleware turns a handler panic into the unclassified 500 error
// body. http.ErrAbortHandler is re-raised.
func RecoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				corrID := correlation.ID(r.Context())
				logger.Error("panic while handling request",
					slog.String("correlation_id", corrID),
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())),
				)
				AddLogField(r.Context(), "panic", fmt.Sprint(rec))
				codec.WriteError(w, codec.TranslateError(fmt.Errorf("panic: %v", rec), corrID, time.Now()))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
