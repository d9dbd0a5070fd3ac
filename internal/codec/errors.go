// Package codec renders failures as the proxy's JSON error body. Messages
// for authentication, configuration and unclassified failures are fixed so
// internal causes never leak to callers.
package codec

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// Error codes carried in the "error" field.
const (
	CodeValidation     = "ValidationError"
	CodeAuthentication = "AuthenticationError"
	CodeConfiguration  = "ConfigurationError"
	CodeCopilotService = "CopilotServiceError"
	CodeTimeout        = "TimeoutError"
	CodeProxyAgent     = "ProxyAgentError"
	CodeInternal       = "InternalServerError"
)

const (
	msgAuthentication = "Authentication failed. Please check your credentials."
	msgConfiguration  = "A configuration error occurred. Please contact support."
	msgCopilotService = "Unable to communicate with Copilot Studio service."
	msgTimeout        = "The request timed out. Please try again."
	msgInternal       = "An unexpected error occurred. Please contact support."

	detailAuthentication = "The service could not authenticate the request."
	detailConfiguration  = "Service configuration issue detected"
	detailInternal       = "An internal server error occurred"
)

// ErrorBody is the JSON error document.
type ErrorBody struct {
	Error         string         `json:"error"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlationId"`
	Details       []string       `json:"details"`
	Context       map[string]any `json:"context"`
	Timestamp     string         `json:"timestamp"`
}

// ErrorResponse pairs an HTTP status with its body.
type ErrorResponse struct {
	StatusCode int
	Body       ErrorBody
}

// TranslateError maps err to its external representation. correlationID is
// the request's id; when empty the error's own id is used.
func TranslateError(err error, correlationID string, now time.Time) ErrorResponse {
	resp := translate(err)

	if correlationID == "" {
		if de, ok := domain.AsError(err); ok {
			correlationID = de.CorrelationID
		}
	}
	resp.Body.CorrelationID = correlationID
	resp.Body.Timestamp = now.UTC().Format(time.RFC3339)
	if resp.Body.Details == nil {
		resp.Body.Details = []string{}
	}
	return resp
}

func translate(err error) ErrorResponse {
	de, ok := domain.AsError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorResponse{
				StatusCode: http.StatusRequestTimeout,
				Body: ErrorBody{
					Error:   CodeTimeout,
					Message: msgTimeout,
					Details: []string{msgTimeout},
				},
			}
		}
		return internalError()
	}

	switch de.Kind {
	case domain.KindValidation:
		details := append([]string(nil), de.ValidationErrors...)
		if len(details) == 0 {
			details = []string{de.Message}
		}
		return ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Body: ErrorBody{
				Error:   CodeValidation,
				Message: de.Message,
				Details: details,
				Context: de.ContextCopy(),
			},
		}

	case domain.KindAuthentication:
		return ErrorResponse{
			StatusCode: http.StatusUnauthorized,
			Body: ErrorBody{
				Error:   CodeAuthentication,
				Message: msgAuthentication,
				Details: []string{detailAuthentication},
				Context: de.ContextCopy(),
			},
		}

	case domain.KindConfiguration:
		section := de.ConfigSection
		if section == "" {
			section = "Unknown"
		}
		return ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Body: ErrorBody{
				Error:   CodeConfiguration,
				Message: msgConfiguration,
				Details: []string{detailConfiguration},
				Context: map[string]any{"ConfigurationSection": section},
			},
		}

	case domain.KindBackendCommunication:
		return ErrorResponse{
			StatusCode: http.StatusBadGateway,
			Body: ErrorBody{
				Error:   CodeCopilotService,
				Message: msgCopilotService,
				Details: []string{de.Message},
				Context: de.ContextCopy(),
			},
		}

	case domain.KindTimeout:
		return ErrorResponse{
			StatusCode: http.StatusRequestTimeout,
			Body: ErrorBody{
				Error:   CodeTimeout,
				Message: de.Message,
				Details: []string{de.Message},
			},
		}

	case domain.KindGeneric:
		return ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Body: ErrorBody{
				Error:   CodeProxyAgent,
				Message: de.Message,
				Details: []string{de.Message},
				Context: de.ContextCopy(),
			},
		}
	}

	return internalError()
}

func internalError() ErrorResponse {
	return ErrorResponse{
		StatusCode: http.StatusInternalServerError,
		Body: ErrorBody{
			Error:   CodeInternal,
			Message: msgInternal,
			Details: []string{detailInternal},
		},
	}
}

// WriteError writes resp as JSON.
func WriteError(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	json.NewEncoder(w).Encode(resp.Body)
}
