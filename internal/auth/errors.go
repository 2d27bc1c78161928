package auth

import (
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
)

var (
	// ErrUnauthenticated is returned when a request carries no usable credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when a resolved principal lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreUnavailable wraps every role store failure, timeouts included.
	// Callers must deny the request.
	ErrStoreUnavailable = errors.New("role store unavailable")

	// ErrInvalidToken marks an identity token that failed verification.
	// It matches ErrUnauthenticated with errors.Is.
	ErrInvalidToken = fmt.Errorf("%w: invalid identity token", ErrUnauthenticated)

	// ErrInvalidSession marks a session credential that failed validation.
	// It matches ErrUnauthenticated with errors.Is.
	ErrInvalidSession = fmt.Errorf("%w: invalid session credential", ErrUnauthenticated)
)

// Error codes carried in JSON error bodies.
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeInternalError = "INTERNAL_ERROR"
	CodeBadRequest    = "BAD_REQUEST"
)

// Client-facing messages. They never reveal why a credential was rejected.
const (
	MessageUnauthenticated = "authentication required"
	MessageForbidden       = "insufficient permission"
	MessageInternal        = "internal server error"
)

// HTTPStatus maps an authentication error to its HTTP status code.
// Unknown errors map to 500 so nothing falls through to an allow.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusInternalServerError
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the JSON error code for err.
func ErrorCode(err error) string {
	switch HTTPStatus(err) {
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	default:
		return CodeInternalError
	}
}

// PublicMessage returns the generic message shown to clients for err.
func PublicMessage(err error) string {
	switch HTTPStatus(err) {
	case http.StatusUnauthorized:
		return MessageUnauthenticated
	case http.StatusForbidden:
		return MessageForbidden
	default:
		return MessageInternal
	}
}

// ConnectCode maps an authentication error to a Connect error code.
func ConnectCode(err error) connect.Code {
	switch HTTPStatus(err) {
	case http.StatusUnauthorized:
		return connect.CodeUnauthenticated
	case http.StatusForbidden:
		return connect.CodePermissionDenied
	default:
		return connect.CodeInternal
	}
}
