// Package domain provides the canonical error taxonomy and activity model
// shared by every layer of the proxy.
package domain

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ErrorKind represents the category of a proxy failure.
type ErrorKind int

const (
	// KindGeneric is a classified failure that fits no narrower category.
	KindGeneric ErrorKind = iota

	// KindValidation indicates malformed or invalid input.
	KindValidation

	// KindAuthentication indicates the backend credential could not be obtained.
	KindAuthentication

	// KindConfiguration indicates missing or invalid service settings.
	KindConfiguration

	// KindBackendCommunication indicates the backend call failed or returned an error status.
	KindBackendCommunication

	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout
)

// String returns the kind name used in logs.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindConfiguration:
		return "configuration"
	case KindBackendCommunication:
		return "backend_communication"
	case KindTimeout:
		return "timeout"
	default:
		return "generic"
	}
}

// Error is the single classified error type of the proxy. Components create
// it where a failure is detected and the HTTP boundary translates it.
type Error struct {
	// Kind selects the external status mapping.
	Kind ErrorKind

	// Message is the internal, human-readable description.
	Message string

	// CorrelationID ties the failure to the operation's log lines.
	CorrelationID string

	// Operation names the step that failed, e.g. "AskQuestion".
	Operation string

	// Cause is the underlying error, if any.
	Cause error

	// Context carries structured, non-secret diagnostics.
	Context map[string]any

	// StatusCode is the backend HTTP status for backend failures, 0 if unknown.
	StatusCode int

	// ConfigSection names the settings section for configuration failures.
	ConfigSection string

	// ValidationErrors lists individual validation messages.
	ValidationErrors []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Operation != "" {
		fmt.Fprintf(&b, " (%s)", e.Operation)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error of the same kind. A target with an
// empty message matches any error of its kind, so sentinel-style checks such
// as errors.Is(err, &domain.Error{Kind: domain.KindTimeout}) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithCorrelationID sets the correlation id.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// WithOperation sets the failing operation name.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithStatusCode records the backend HTTP status.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// WithContext adds a diagnostic key/value pair.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ContextCopy returns a copy of the diagnostic context, or nil if empty.
func (e *Error) ContextCopy() map[string]any {
	if len(e.Context) == 0 {
		return nil
	}
	return maps.Clone(e.Context)
}

// NewError creates a classified error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewValidationError creates a validation error. When no individual messages
// are supplied, the message itself is the only validation error.
func NewValidationError(message string, validationErrors ...string) *Error {
	return &Error{
		Kind:             KindValidation,
		Message:          message,
		ValidationErrors: validationErrors,
	}
}

// NewAuthenticationError creates an authentication error for the given tenant.
func NewAuthenticationError(message, tenantID string) *Error {
	e := &Error{Kind: KindAuthentication, Message: message}
	if tenantID != "" {
		e.WithContext("TenantId", tenantID)
	}
	return e
}

// NewConfigurationError creates a configuration error for a settings section.
func NewConfigurationError(message, section string) *Error {
	return &Error{Kind: KindConfiguration, Message: message, ConfigSection: section}
}

// NewBackendError creates a backend communication error.
func NewBackendError(message, operation string) *Error {
	return &Error{Kind: KindBackendCommunication, Message: message, Operation: operation}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	if de, ok := AsError(err); ok {
		return de.Kind, true
	}
	return KindGeneric, false
}

// IsKind reports whether err carries a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
