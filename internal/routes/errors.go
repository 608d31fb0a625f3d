package routes

import (
	"errors"
	"net/http"

	"family-safety-control/internal/controlplane"
	"family-safety-control/internal/jwt"
)

// HTTPError represents an error with an associated HTTP status code and user message
type HTTPError struct {
	Err        error    // The underlying error
	StatusCode int      // HTTP status code
	Message    string   // User-friendly message
	StopCodes  []string // Optional stop codes for client-side handling
	Internal   bool     // Whether this is an internal error (hide details from user)
}

// ErrorInfo contains error metadata for user-facing errors
type ErrorInfo struct {
	Message   string   // User-friendly message. Empty uses the error text.
	StopCodes []string // Optional stop codes for client-side application
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, err error, message string, stopCodes ...string) *HTTPError {
	return &HTTPError{
		Err:        err,
		StatusCode: statusCode,
		Message:    message,
		StopCodes:  stopCodes,
		Internal:   statusCode >= 500,
	}
}

// Routes-specific errors (that don't conflict with other packages)
var (
	// Authentication errors
	ErrUnauthorized = errors.New("unauthorized")

	// Authorization errors
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// Lookup errors
	ErrChildNotFound    = errors.New("child not found")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrRequestNotFound  = errors.New("request not found")
	ErrNoPendingPairing = errors.New("no pending pairing")

	// Pairing throttle
	ErrTooManyAttempts = errors.New("too many pairing attempts")

	// Validation errors
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrInvalidParameter = errors.New("invalid parameter")

	// Internal errors
	ErrInternalServer     = errors.New("internal server error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// errorStatusMap maps errors to HTTP status codes
var errorStatusMap = map[error]int{
	// 400 Bad Request
	ErrInvalidRequest:            http.StatusBadRequest,
	ErrMissingParameter:          http.StatusBadRequest,
	ErrInvalidParameter:          http.StatusBadRequest,
	controlplane.ErrInvalidInput: http.StatusBadRequest,

	// 401 Unauthorized
	ErrUnauthorized:              http.StatusUnauthorized,
	ErrUserNotFound:              http.StatusUnauthorized,
	jwt.ErrNonValidToken:         http.StatusUnauthorized,
	jwt.ErrInvalidClaimType:      http.StatusUnauthorized,
	controlplane.ErrUnauthorized: http.StatusUnauthorized,

	// 403 Forbidden
	ErrInsufficientPermissions: http.StatusForbidden,

	// 404 Not Found
	ErrChildNotFound:                    http.StatusNotFound,
	ErrDeviceNotFound:                   http.StatusNotFound,
	ErrRequestNotFound:                  http.StatusNotFound,
	ErrNoPendingPairing:                 http.StatusNotFound,
	controlplane.ErrPairingNotFound:     http.StatusNotFound,
	controlplane.ErrDiagnosticsNotFound: http.StatusNotFound,

	// 409 Conflict
	controlplane.ErrChildArchived: http.StatusConflict,
	controlplane.ErrTokenRevoked:  http.StatusConflict,
	controlplane.ErrNoSnapshot:    http.StatusConflict,

	// 413 Request Entity Too Large
	controlplane.ErrDiagnosticsTooLarge: http.StatusRequestEntityTooLarge,

	// 429 Too Many Requests
	ErrTooManyAttempts: http.StatusTooManyRequests,

	// 500 Internal Server Error
	ErrInternalServer: http.StatusInternalServerError,

	// 501 Not Implemented
	controlplane.ErrDiagnosticsNotStored: http.StatusNotImplemented,

	// 503 Service Unavailable
	ErrServiceUnavailable:              http.StatusServiceUnavailable,
	controlplane.ErrPersist:            http.StatusServiceUnavailable,
	controlplane.ErrCodeSpaceExhausted: http.StatusServiceUnavailable,
}

// errorInfoMap maps errors to user-friendly messages and optional stop codes
var errorInfoMap = map[error]ErrorInfo{
	// Authentication
	ErrUnauthorized: {
		Message:   "Authentication required",
		StopCodes: []string{"AUTH_REQUIRED"},
	},
	ErrUserNotFound: {
		Message:   "Authentication required",
		StopCodes: []string{"AUTH_REQUIRED"},
	},
	jwt.ErrNonValidToken: {
		Message:   "Invalid or expired authentication token",
		StopCodes: []string{"AUTH_INVALID_TOKEN"},
	},
	jwt.ErrInvalidClaimType: {
		Message:   "Invalid or expired authentication token",
		StopCodes: []string{"AUTH_INVALID_TOKEN"},
	},
	controlplane.ErrUnauthorized: {
		Message:   "Device token rejected",
		StopCodes: []string{"DEVICE_TOKEN_REJECTED"},
	},

	// Authorization
	ErrInsufficientPermissions: {
		Message:   "You don't have permission to perform this action",
		StopCodes: []string{"INSUFFICIENT_PERMISSIONS"},
	},

	// Lookup
	ErrChildNotFound: {
		Message:   "Child not found",
		StopCodes: []string{"CHILD_NOT_FOUND"},
	},
	ErrDeviceNotFound: {
		Message:   "Device not found",
		StopCodes: []string{"DEVICE_NOT_FOUND"},
	},
	ErrRequestNotFound: {
		Message:   "Access request not found",
		StopCodes: []string{"REQUEST_NOT_FOUND"},
	},
	ErrNoPendingPairing: {
		Message:   "No pairing in progress for this child",
		StopCodes: []string{"NO_PENDING_PAIRING"},
	},
	controlplane.ErrPairingNotFound: {
		Message:   "Pairing code is unknown or expired",
		StopCodes: []string{"PAIRING_NOT_FOUND"},
	},
	controlplane.ErrDiagnosticsNotFound: {
		Message:   "Diagnostics bundle not found",
		StopCodes: []string{"DIAGNOSTICS_NOT_FOUND"},
	},

	// Conflicts
	controlplane.ErrChildArchived: {
		Message:   "Child is archived",
		StopCodes: []string{"CHILD_ARCHIVED"},
	},
	controlplane.ErrTokenRevoked: {
		Message:   "Device token is revoked, pair the device again",
		StopCodes: []string{"DEVICE_REVOKED"},
	},
	controlplane.ErrNoSnapshot: {
		Message:   "No previous profile to roll back to",
		StopCodes: []string{"NO_SNAPSHOT"},
	},

	controlplane.ErrDiagnosticsTooLarge: {
		Message:   "Diagnostics bundle is too large",
		StopCodes: []string{"DIAGNOSTICS_TOO_LARGE"},
	},
	ErrTooManyAttempts: {
		Message:   "Too many failed pairing attempts, try again later",
		StopCodes: []string{"PAIRING_THROTTLED"},
	},

	// Validation. Empty messages pass the validation detail through.
	ErrInvalidRequest: {
		Message:   "Invalid request format",
		StopCodes: []string{"INVALID_REQUEST"},
	},
	ErrMissingParameter: {
		StopCodes: []string{"MISSING_PARAMETER"},
	},
	ErrInvalidParameter: {
		StopCodes: []string{"INVALID_PARAMETER"},
	},
	controlplane.ErrInvalidInput: {
		StopCodes: []string{"INVALID_INPUT"},
	},

	// Internal (no stop codes for internal errors)
	ErrInternalServer: {
		Message: "An internal error occurred",
	},
	controlplane.ErrDiagnosticsNotStored: {
		Message: "Diagnostics storage is not configured",
	},
	ErrServiceUnavailable: {
		Message: "Service is temporarily unavailable",
	},
	controlplane.ErrCodeSpaceExhausted: {
		Message: "No pairing code available, try again later",
	},
	controlplane.ErrPersist: {
		Message:   "Change could not be saved, retry",
		StopCodes: []string{"PERSIST_FAILED"},
	},
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	// Check if it's already an HTTPError
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	// Check direct match
	if status, ok := errorStatusMap[err]; ok {
		return status
	}

	// Check if error wraps a known error
	for knownErr, status := range errorStatusMap {
		if errors.Is(err, knownErr) {
			return status
		}
	}

	// Default to 500 Internal Server Error
	return http.StatusInternalServerError
}

// GetErrorInfo returns error information including message and stop codes
func GetErrorInfo(err error) ErrorInfo {
	// Check if it's an HTTPError with custom info
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ErrorInfo{
			Message:   httpErr.Message,
			StopCodes: httpErr.StopCodes,
		}
	}

	info, ok := errorInfoMap[err]
	if !ok {
		// Check if error wraps a known error
		for knownErr, known := range errorInfoMap {
			if errors.Is(err, knownErr) {
				info = known
				break
			}
		}
	}

	status := GetErrorStatus(err)
	if info.Message == "" {
		// For unknown errors, return a generic message for 5xx, specific for others
		if status >= 500 {
			info.Message = "An internal error occurred"
		} else {
			info.Message = err.Error()
		}
	}
	return info
}
