package server

import (
	"net/http"
	"time"

	"github.com/willvelida/m365-sdk-proxy/internal/auth"
	"github.com/willvelida/m365-sdk-proxy/internal/codec"
	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// AuthMiddleware requires a configured channel API key as a Bearer token.
// If the validator has no keys, the middleware is a no-op.
// Rejections use the AuthenticationError body, so the reason never reaches the caller.
func AuthMiddleware(validator *auth.KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !validator.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err == nil {
				err = validator.ValidateAPIKey(apiKey)
			}
			if err != nil {
				corrID := correlation.ID(r.Context())
				derr := domain.NewAuthenticationError("inbound request rejected", "").
					WithCorrelationID(corrID).
					WithCause(err)
				AddError(r.Context(), derr)
				codec.WriteError(w, codec.TranslateError(derr, corrID, time.Now()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
