// Package apierrors provides structured API error codes and responses.
// All codes are namespaced (e.g., "core:permission_denied",
// "pybridge:call_timeout"); plugin-contributed codes carry the plugin id
// as namespace.
package apierrors

import "net/http"

// Core error codes - registered automatically at init
const (
	// Authentication & Authorization
	CodeUnauthorized     = "core:unauthorized"
	CodePermissionDenied = "core:permission_denied"
	CodeSealMismatch     = "core:seal_mismatch"

	// Request errors
	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"

	// Resource errors
	CodeNotFound       = "core:not_found"
	CodePluginNotFound = "core:plugin_not_found"
	CodeConflict       = "core:conflict"

	// Rate limiting & load
	CodeRateLimited = "core:rate_limited"
	CodeChannelFull = "core:channel_full"

	// Deadlines
	CodeTimeout = "core:timeout"

	// Server errors
	CodeInternalError = "core:internal_error"
	CodeTransient     = "core:transient"
)

// coreErrors defines all core error codes with their default messages and HTTP status
var coreErrors = []ErrorCode{
	{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized},
	{Code: CodePermissionDenied, Message: "Permission denied", HTTPStatus: http.StatusForbidden},
	{Code: CodeSealMismatch, Message: "Plugin integrity seal does not match this kernel", HTTPStatus: http.StatusForbidden},

	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeValidationFailed, Message: "Request validation failed", HTTPStatus: http.StatusBadRequest},

	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodePluginNotFound, Message: "Plugin not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},

	{Code: CodeRateLimited, Message: "Too many requests", HTTPStatus: http.StatusTooManyRequests},
	{Code: CodeChannelFull, Message: "Event queue is full, retry later", HTTPStatus: http.StatusServiceUnavailable},

	{Code: CodeTimeout, Message: "Operation timed out", HTTPStatus: http.StatusGatewayTimeout},

	{Code: CodeInternalError, Message: "Internal error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeTransient, Message: "Temporarily unavailable, retry with backoff", HTTPStatus: http.StatusServiceUnavailable},
}

func init() {
	for _, e := range coreErrors {
		Registry.Register(e)
	}
}
