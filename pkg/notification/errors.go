package notification

import (
	"fmt"
)

// AuthReason classifies a credential failure.
type AuthReason int

const (
	AuthMalformedSecret AuthReason = iota + 1
	AuthNetworkFailure
	AuthEmptyToken
	AuthUnauthorized
)

func (r AuthReason) String() string {
	switch r {
	case AuthMalformedSecret:
		return "malformed_secret"
	case AuthNetworkFailure:
		return "network_failure"
	case AuthEmptyToken:
		return "empty_token"
	case AuthUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// AuthError is returned when a bearer token could not be obtained.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth failed: %s", e.Reason)
	}
	return fmt.Sprintf("auth failed: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SendErrorKind classifies a dispatch failure.
type SendErrorKind int

const (
	SendHTTPStatus SendErrorKind = iota + 1
	SendMalformedResponse
	SendTimeout
	SendTransport
)

func (k SendErrorKind) String() string {
	switch k {
	case SendHTTPStatus:
		return "http_status"
	case SendMalformedResponse:
		return "malformed_response"
	case SendTimeout:
		return "timeout"
	case SendTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// SendError is returned when the backend did not accept a message.
// StatusCode is set for SendHTTPStatus and SendMalformedResponse.
type SendError struct {
	Kind       SendErrorKind
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	switch {
	case e.Kind == SendHTTPStatus && e.Err != nil:
		return fmt.Sprintf("send failed: HTTP %d: %v", e.StatusCode, e.Err)
	case e.Kind == SendHTTPStatus:
		return fmt.Sprintf("send failed: HTTP %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("send failed: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("send failed: %s", e.Kind)
	}
}

func (e *SendError) Unwrap() error { return e.Err }
