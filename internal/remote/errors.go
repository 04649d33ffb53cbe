package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// ErrorKind classifies a sync failure for logging and retry decisions
type ErrorKind string

const (
	// ErrorKindNetwork represents a connectivity failure
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindAuth represents an authentication failure
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindServer represents a server-side failure
	ErrorKindServer ErrorKind = "server"
	// ErrorKindClient represents a client-side rejection
	ErrorKindClient ErrorKind = "client"
	// ErrorKindUnknown represents an unclassified failure
	ErrorKindUnknown ErrorKind = "unknown"
)

// ClassifyError maps an error from a client call to an ErrorKind
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return ErrorKindAuth
		case apiErr.StatusCode >= 500:
			return ErrorKindServer
		case apiErr.StatusCode >= 400:
			return ErrorKindClient
		default:
			return ErrorKindUnknown
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindNetwork
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorKindNetwork
	}

	return ErrorKindUnknown
}

// IsPermanent reports whether an error is a permanent rejection: the
// request itself is unacceptable and retrying the same payload can never
// succeed. 408 (timeout) and 429 (throttling) are transient despite being
// 4xx, so they stay retryable.
func IsPermanent(err error) bool {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	if apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusTooManyRequests {
		return false
	}

	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// IsConnectivity reports whether an error looks like a connectivity
// failure rather than a server decision. A connectivity failure aborts
// the rest of the drain; the remaining items never attempted keep their
// attempt budget untouched.
func IsConnectivity(err error) bool {
	return ClassifyError(err) == ErrorKindNetwork
}
