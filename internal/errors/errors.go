// Package errors defines the API error taxonomy shared across the proxy.
package errors

import "net/http"

// APIError is the unified error type surfaced to clients.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Predefined errors. Each maps one failure kind to one HTTP status and a
// stable machine-readable code, so tests and clients assert on Code, not on
// log text.
var (
	// Malformed input
	ErrBadRequest  = &APIError{HTTPStatus: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Invalid request parameters"}
	ErrInvalidJSON = &APIError{HTTPStatus: http.StatusBadRequest, Code: "INVALID_JSON", Message: "Request body is not valid JSON"}
	ErrValidation  = &APIError{HTTPStatus: http.StatusBadRequest, Code: "VALIDATION_FAILED", Message: "Request validation failed"}

	// Upstream failures
	ErrUpstreamUnreachable = &APIError{HTTPStatus: http.StatusBadGateway, Code: "UPSTREAM_UNREACHABLE", Message: "Failed to connect to upstream service"}
	ErrUpstreamTimeout     = &APIError{HTTPStatus: http.StatusGatewayTimeout, Code: "UPSTREAM_TIMEOUT", Message: "Upstream service timed out"}
	ErrBadGateway          = &APIError{HTTPStatus: http.StatusBadGateway, Code: "BAD_GATEWAY", Message: "Upstream service returned an error"}

	// Protocol decoding
	ErrProtocolDecode = &APIError{HTTPStatus: http.StatusBadGateway, Code: "PROTOCOL_DECODE", Message: "Upstream stream could not be decoded"}

	// Hook pipeline
	ErrHookFailure = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "HOOK_FAILURE", Message: "A critical hook failed"}

	// Command catalog
	ErrCommandCycle = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "COMMAND_CYCLE", Message: "Command catalog contains a reference cycle"}

	// Generic
	ErrInternalServer = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "INTERNAL_SERVER_ERROR", Message: "Internal server error"}
	ErrUnauthorized   = &APIError{HTTPStatus: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Authentication required"}
	ErrDatabase       = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "DATABASE_ERROR", Message: "Database operation failed"}
)

// NewAPIError creates a copy of a predefined error with a custom message.
func NewAPIError(base *APIError, message string) *APIError {
	return &APIError{
		HTTPStatus: base.HTTPStatus,
		Code:       base.Code,
		Message:    message,
	}
}

// NewAPIErrorWithUpstream creates an error that carries the upstream HTTP
// status through to the client.
func NewAPIErrorWithUpstream(statusCode int, code, message string) *APIError {
	return &APIError{
		HTTPStatus: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewValidationError creates a validation error with a custom message.
func NewValidationError(message string) *APIError {
	return NewAPIError(ErrValidation, message)
}
