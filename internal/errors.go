package internal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrInvalidPath ErrorType = iota
	ErrNotFound
	ErrAuth
	ErrBackend
	ErrDecode
	ErrInvalidConfig
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// ProviderError is the single error type surfaced by the provider. Callers
// branch on Type; Err carries the underlying cause when there is one.
type ProviderError struct {
	Code       int                    `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	var parts []string

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("%s error (code: %d)", e.Type.String(), e.Code))
	} else {
		parts = append(parts, fmt.Sprintf("%s error", e.Type.String()))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap exposes the underlying cause
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// DetailedError returns a detailed error message with all available information
func (e *ProviderError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("Cause: %s", redactSensitiveURL(e.Err.Error())))
	}

	// Download URLs embed a temporary credential
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrInvalidPath:
		return "InvalidPath"
	case ErrNotFound:
		return "NotFound"
	case ErrAuth:
		return "Auth"
	case ErrBackend:
		return "Backend"
	case ErrDecode:
		return "Decode"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewProviderError creates a new ProviderError with default severity and suggestion
func NewProviderError(code int, message string, errorType ErrorType) *ProviderError {
	return &ProviderError{
		Code:       code,
		Message:    message,
		Type:       errorType,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType, code),
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps cause into a ProviderError of the given type. If cause is
// already a ProviderError it is returned unchanged so the original
// classification wins.
func WrapError(cause error, message string, errorType ErrorType) error {
	if cause == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(cause, &pe) {
		return cause
	}
	err := NewProviderError(0, message, errorType)
	err.Err = cause
	return err
}

// WithSuggestion adds a custom suggestion to the error
func (e *ProviderError) WithSuggestion(suggestion string) *ProviderError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *ProviderError) WithURL(url string) *ProviderError {
	e.URL = url
	return e
}

// WithCause attaches the underlying error
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Err = err
	return e
}

// WithContext adds context information to the error
func (e *ProviderError) WithContext(key string, value interface{}) *ProviderError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsCritical returns true if the error is critical and should stop execution
func (e *ProviderError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// IsType reports whether err is, or wraps, a ProviderError of type t
func IsType(err error, t ErrorType) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type == t
	}
	return false
}

// TypeOf returns the ErrorType of err and whether err is a ProviderError
func TypeOf(err error) (ErrorType, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type, true
	}
	return ErrBackend, false
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// getDefaultSuggestion returns a default suggestion based on error type and code
func getDefaultSuggestion(errorType ErrorType, code int) string {
	switch errorType {
	case ErrInvalidPath:
		return "Disc and track numbers start at 1; the catalog root must not contain ':'"
	case ErrNotFound:
		return "Reload the catalog and verify the album folder still exists on the drive"
	case ErrAuth:
		return "Obtain a fresh refresh token; the stored one may have been revoked or already rotated"
	case ErrBackend:
		if code >= 500 {
			return "The storage service reported a server error. Please try again later"
		}
		return "Check network connectivity and the drive location setting"
	case ErrDecode:
		return "The file's embedded metadata is missing or malformed"
	case ErrInvalidConfig:
		return "Check the configuration file and DRIVECAST_* environment variables"
	default:
		return "Please check the error details and try again"
	}
}

// getDefaultSeverity returns the default severity for an error type
func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrNotFound:
		return SeverityWarning
	case ErrDecode, ErrBackend:
		return SeverityError
	case ErrAuth, ErrInvalidPath, ErrInvalidConfig:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL redacts query parameters, which carry temporary
// credentials on download URLs
func redactSensitiveURL(url string) string {
	if i := strings.Index(url, "?"); i >= 0 {
		return url[:i] + "?[REDACTED]"
	}
	return url
}

// Common error constructors for frequently used errors

// NewInvalidPathError creates an error for an unaddressable remote path
func NewInvalidPathError(path string, reason string) *ProviderError {
	return NewProviderError(0, fmt.Sprintf("invalid path: %s", reason), ErrInvalidPath).
		WithContext("path", path)
}

// NewNotFoundError creates an error for an unknown album or missing item
func NewNotFoundError(what string) *ProviderError {
	return NewProviderError(404, fmt.Sprintf("%s not found", what), ErrNotFound)
}

// NewAuthError creates an error for a failed credential exchange
func NewAuthError(message string, cause error) *ProviderError {
	return NewProviderError(401, message, ErrAuth).WithCause(cause)
}

// NewBackendError creates an error for transport or protocol failures
func NewBackendError(code int, message string) *ProviderError {
	return NewProviderError(code, message, ErrBackend)
}

// NewDecodeError creates an error for duration metadata that could not be read
func NewDecodeError(message string) *ProviderError {
	return NewProviderError(0, message, ErrDecode)
}

// NewConfigError creates an error for invalid configuration
func NewConfigError(field, message string) *ProviderError {
	return NewProviderError(0, message, ErrInvalidConfig).WithContext("field", field)
}
