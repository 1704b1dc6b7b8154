// Package errors provides structured error handling for the broker.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Token errors
	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeInvalidTokenType Code = "INVALID_TOKEN_TYPE"

	// Session errors
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeUniqueIDMismatch Code = "UNIQUE_ID_MISMATCH"

	// Identity errors
	CodeUserNotFound Code = "USER_NOT_FOUND"

	// Upstream provider errors
	CodeGoogleSessionExpired Code = "GOOGLE_SESSION_EXPIRED"

	// Redirect whitelist errors
	CodeUnauthorizedRedirectURL Code = "UNAUTHORIZED_REDIRECT_URL"

	// Vault errors
	CodeDecryptError Code = "DECRYPT_ERROR"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Unauthorized - credential or upstream-session failures
	case CodeInvalidToken,
		CodeTokenExpired,
		CodeInvalidTokenType,
		CodeSessionNotFound,
		CodeUserNotFound,
		CodeGoogleSessionExpired:
		return http.StatusUnauthorized

	// Forbidden - caller is authenticated but the request is not allowed
	case CodeUniqueIDMismatch,
		CodeUnauthorizedRedirectURL:
		return http.StatusForbidden

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
