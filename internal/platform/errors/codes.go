// Package errors provides structured, request-scoped error kinds for the
// identity core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeAuthentication covers invalid, expired, or mismatched credentials,
	// tokens, and challenges. Messages stay generic to avoid enumeration.
	CodeAuthentication Code = "AUTHENTICATION_FAILED"

	// CodeValidation covers malformed input rejected before any mutation.
	CodeValidation Code = "VALIDATION_FAILED"

	// CodeNotFound covers absent or expired records.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict covers version mismatches and already-applied transitions.
	CodeConflict Code = "CONFLICT"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
