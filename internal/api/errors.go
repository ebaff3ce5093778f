// ABOUTME: Failure taxonomy for backend calls
// ABOUTME: Normalizes transport failures and status codes into typed errors

package api

import "fmt"

// Kind classifies a request failure. Every error leaving this package is an
// *Error carrying exactly one kind; flows branch on kinds, never on message
// text.
type Kind int

const (
	// KindUnknown covers anything the taxonomy doesn't name, including
	// unexpected status codes.
	KindUnknown Kind = iota
	// KindValidation is a local pre-network failure such as a blank key name.
	KindValidation
	// KindMissingCredential means a required token or API key was absent
	// before a protected call; no request was issued.
	KindMissingCredential
	// KindNetwork means no response was received at all.
	KindNetwork
	// KindUnauthorized is a 401: the identity is invalid, force re-login.
	KindUnauthorized
	// KindForbidden is a 403: the API key is invalid or expired, route the
	// user to key settings.
	KindForbidden
	// KindBadRequest is a 400.
	KindBadRequest
	// KindServer is any status >= 500.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindMissingCredential:
		return "missing_credential"
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Kind sentinels for errors.Is matching.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrMissingCredential = &Error{Kind: KindMissingCredential}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrBadRequest        = &Error{Kind: KindBadRequest}
	ErrServer            = &Error{Kind: KindServer}
)

// Error is a classified request failure. Message is user-facing: the
// server's error field when one was returned, a fixed default otherwise.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessage(e.Kind)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels above, so errors.Is(err, api.ErrForbidden)
// works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Status == 0 && t.Message == "" && t.Err == nil
}

// UserMessage returns the display text for the failure.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return defaultMessage(e.Kind)
}

func defaultMessage(k Kind) string {
	switch k {
	case KindValidation:
		return "Invalid input. Please check and try again."
	case KindMissingCredential:
		return "Sign-in or API key required before this action."
	case KindNetwork:
		return "Cannot reach the server. Please check your network connection."
	case KindUnauthorized:
		return "Authentication failed. Please sign in again."
	case KindForbidden:
		return "Access denied. Please check your API key."
	case KindBadRequest:
		return "Invalid request. Please check your input."
	case KindServer:
		return "The server ran into a problem. Please try again later."
	default:
		return "The request failed."
	}
}

// statusKind maps an HTTP status code to its failure kind.
func statusKind(status int) Kind {
	switch {
	case status == 401:
		return KindUnauthorized
	case status == 403:
		return KindForbidden
	case status == 400:
		return KindBadRequest
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}
