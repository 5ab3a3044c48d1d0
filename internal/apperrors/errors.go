package apperrors

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError     ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrorCodeConflict            ErrorCode = "CONFLICT"
	ErrorCodeRateLimited         ErrorCode = "RATE_LIMITED"
	ErrorCodeInvalidID           ErrorCode = "INVALID_ID"
	ErrorCodeNotLinked           ErrorCode = "SERVICE_NOT_LINKED"
	ErrorCodeTokenExpired        ErrorCode = "TOKEN_EXPIRED"
	ErrorCodeAuthFailed          ErrorCode = "AUTHENTICATION_FAILED"
	ErrorCodeInvalidOAuthState   ErrorCode = "INVALID_OAUTH_STATE"
	ErrorCodeUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrorCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorCodeWatcherNotFound     ErrorCode = "WATCHER_NOT_FOUND"
	ErrorCodeWatcherQuarantined  ErrorCode = "WATCHER_QUARANTINED"
	ErrorCodeSyncInProgress      ErrorCode = "SYNC_IN_PROGRESS"
	ErrorCodeSyncInterrupted     ErrorCode = "SYNC_INTERRUPTED"
	ErrorCodeUserNotFound        ErrorCode = "USER_NOT_FOUND"
	ErrorCodeUsernameTaken       ErrorCode = "USERNAME_TAKEN"
	ErrorCodePlaylistNotFound    ErrorCode = "PLAYLIST_NOT_FOUND"
	ErrorCodeAuthTokenExpired    ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid    ErrorCode = "AUTH_TOKEN_INVALID"
)

// Remediation provides guidance on how to fix an error.
type Remediation struct {
	Action     string `json:"action"`
	Endpoint   string `json:"endpoint,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

// ErrorType categorizes errors in the serialized payload.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeAuthError indicates authentication or authorization failure.
	ErrorTypeAuthError ErrorType = "authentication_error"
)

// ErrorBody is the serialized error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type ErrorBody struct {
	Type        ErrorType    `json:"type"`
	Code        string       `json:"code"`
	Message     string       `json:"message"`
	Remediation *Remediation `json:"remediation,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code        ErrorCode
	Message     string
	StatusCode  int
	Details     map[string]any
	Remediation *Remediation
}

func (err *AppError) Error() string {
	return err.Message
}

// ErrorBody returns the serialized payload for the error.
func (err *AppError) ErrorBody() ErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return ErrorBody{
		Type:        errType,
		Code:        string(err.Code),
		Message:     err.Message,
		Remediation: err.Remediation,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any, remediation *Remediation) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		Details:     details,
		Remediation: remediation,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details, nil)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 401, nil, nil)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrorCodeForbidden, message, 403, nil, nil)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewConflictError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConflict, message, 409, details, nil)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorCodeRateLimited, message, 429, nil, nil)
}

// NewNotLinkedError is returned when a user has not connected the service.
func NewNotLinkedError(service string) *AppError {
	return NewAppError(ErrorCodeNotLinked, service+" account is not connected", 401, map[string]any{"service": service}, &Remediation{
		Action:     "connect_service",
		Endpoint:   "/v1/services/" + service + "/connect",
		UserAction: "Connect your " + service + " account and try again",
	})
}

// NewUpstreamUnavailableError is returned when a provider or the link-matching
// API is rate limiting or failing; interactive callers should retry later.
func NewUpstreamUnavailableError(message string) *AppError {
	return NewAppError(ErrorCodeUpstreamUnavailable, message, 503, nil, nil)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError("Internal server error")
}
