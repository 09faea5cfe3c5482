package errors

import (
	"errors"
	"net/http"
	"strings"
)

// Kind is the machine-readable error code carried in every error response.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindDuplicateEmail      Kind = "DUPLICATE_EMAIL"
	KindInvalidCredentials  Kind = "INVALID_CREDENTIALS"
	KindUnauthenticated     Kind = "UNAUTHENTICATED"
	KindForbidden           Kind = "FORBIDDEN"
	KindNotFoundOrForbidden Kind = "NOT_FOUND_OR_FORBIDDEN"
	KindInternal            Kind = "INTERNAL_ERROR"
)

var (
	// ErrDuplicateEmail is returned when registering an email that already has an identity.
	ErrDuplicateEmail = errors.New("email is already registered")
	// ErrInvalidCredentials is shared by the unknown-email and wrong-password login cases.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrTaskNotFound covers both absent tasks and tasks owned by someone else.
	ErrTaskNotFound = errors.New("task not found or you are not authorized to access it")
	// ErrIdentityNotFound is returned when a verified token refers to a removed identity.
	ErrIdentityNotFound = errors.New("user not found")
	// ErrMissingCredential is returned when the Authorization header is absent or not a bearer credential.
	ErrMissingCredential = errors.New("authorization denied, token not provided or invalid format")
	// ErrSessionExpired is returned for well-formed tokens past their expiry.
	ErrSessionExpired = errors.New("session expired, please log in again")
	// ErrInvalidToken is returned for tokens with a bad signature, structure or algorithm.
	ErrInvalidToken = errors.New("invalid token, access denied")
	// ErrUnknownProvider is returned for OAuth routes naming a provider that is not configured.
	ErrUnknownProvider = errors.New("authentication provider not found")
	// ErrOAuthFailed covers rejected state values, denied consent and failed code exchanges.
	ErrOAuthFailed = errors.New("third-party authentication failed")
)

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every rejected field of a request.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// NewValidationError creates a validation error with optional field details.
func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Code    Kind         `json:"code"`
	Details []FieldError `json:"details,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       Kind
	Details    []FieldError
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message string, code Kind) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Code:    e.Code,
		Details: e.Details,
	}
}

// IsInternal reports whether the error carries no client-facing meaning.
func (e *HTTPError) IsInternal() bool {
	return e.Code == KindInternal
}

// MapErrorToHTTP maps domain errors to HTTP errors.
func MapErrorToHTTP(err error) *HTTPError {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		httpErr := NewHTTPError(http.StatusBadRequest, validationErr.Message, KindValidation)
		httpErr.Details = validationErr.Fields
		return httpErr
	}

	switch {
	case errors.Is(err, ErrDuplicateEmail):
		return NewHTTPError(http.StatusBadRequest, ErrDuplicateEmail.Error(), KindDuplicateEmail)
	case errors.Is(err, ErrInvalidCredentials):
		return NewHTTPError(http.StatusUnauthorized, ErrInvalidCredentials.Error(), KindInvalidCredentials)
	case errors.Is(err, ErrMissingCredential):
		return NewHTTPError(http.StatusUnauthorized, ErrMissingCredential.Error(), KindUnauthenticated)
	case errors.Is(err, ErrSessionExpired):
		return NewHTTPError(http.StatusUnauthorized, ErrSessionExpired.Error(), KindUnauthenticated)
	case errors.Is(err, ErrInvalidToken):
		return NewHTTPError(http.StatusForbidden, ErrInvalidToken.Error(), KindForbidden)
	case errors.Is(err, ErrTaskNotFound):
		return NewHTTPError(http.StatusNotFound, ErrTaskNotFound.Error(), KindNotFoundOrForbidden)
	case errors.Is(err, ErrIdentityNotFound):
		return NewHTTPError(http.StatusNotFound, ErrIdentityNotFound.Error(), KindNotFoundOrForbidden)
	case errors.Is(err, ErrUnknownProvider):
		return NewHTTPError(http.StatusNotFound, ErrUnknownProvider.Error(), KindNotFoundOrForbidden)
	case errors.Is(err, ErrOAuthFailed):
		return NewHTTPError(http.StatusBadRequest, ErrOAuthFailed.Error(), KindValidation)
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal server error, please try again later", KindInternal)
	}
}
