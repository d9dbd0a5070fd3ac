package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// IsTransport reports whether err is a connectivity failure: a network
// error, a refused or reset connection, or a truncated response. Caller
// cancellations and errors already classified as authentication or
// configuration failures are not transport failures, even when an HTTP
// client wrapped them in a *url.Error.
func IsTransport(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if k, ok := domain.KindOf(err); ok && (k == domain.KindAuthentication || k == domain.KindConfiguration) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTimeout reports whether err is a timeout: a Timeout domain error, a
// deadline expiry or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if domain.IsKind(err, domain.KindTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryableStatus reports whether a backend HTTP status is worth retrying.
func IsRetryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// AuthenticationRetryable retries authentication failures, transport
// failures and timeouts.
func AuthenticationRetryable(err error) bool {
	return domain.IsKind(err, domain.KindAuthentication) || IsTransport(err) || IsTimeout(err)
}

// BackendRetryable retries backend failures with a 5xx or 429 status,
// transport failures and timeouts.
func BackendRetryable(err error) bool {
	if de, ok := domain.AsError(err); ok && de.Kind == domain.KindBackendCommunication && IsRetryableStatus(de.StatusCode) {
		return true
	}
	return IsTransport(err) || IsTimeout(err)
}

// TransportRetryable retries transport failures and timeouts.
func TransportRetryable(err error) bool {
	return IsTransport(err) || IsTimeout(err)
}
