package api

import (
	"errors"
	"fmt"
)

// Lifecycle and pipeline errors shared across packages.
var (
	// ErrNotInitialized is returned when the engine is used before a load
	// has completed successfully.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrEngineNotReady is returned when a completion is requested without
	// a ready engine.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrEngineBusy is returned when the engine's job queue is full.
	ErrEngineBusy = errors.New("engine busy")

	// ErrEngineClosed is returned after the engine has been shut down.
	ErrEngineClosed = errors.New("engine closed")

	// ErrEmptySequence is returned when pooling a matrix with no tokens.
	ErrEmptySequence = errors.New("empty token sequence")

	// ErrBatchSize is returned when an extractor produced more than one sequence.
	ErrBatchSize = errors.New("unsupported batch size")

	// ErrPaddedSequence is returned when the attention mask shows padding tokens.
	ErrPaddedSequence = errors.New("padded sequence")

	// ErrRaggedMatrix is returned when token rows differ in width.
	ErrRaggedMatrix = errors.New("ragged token matrix")

	// ErrSendInProgress is returned when a session already has a turn in flight.
	ErrSendInProgress = errors.New("send already in progress")
)

// LoadError reports a failed model load. The manager stays retryable after it.
type LoadError struct {
	Model string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading model %s: %v", e.Model, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// StreamError reports a completion stream that failed after Received chunks.
// Partial holds the text accumulated before the failure.
type StreamError struct {
	Received int
	Partial  string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed after %d chunks: %v", e.Received, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError       ErrorType = "server_error"
	ErrorTypeInvalidRequest    ErrorType = "invalid_request"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeModelError        ErrorType = "model_error"
	ErrorTypeTooManyRequests   ErrorType = "too_many_requests"
	ErrorTypeEngineUnavailable ErrorType = "engine_unavailable"
	ErrorTypeAuthentication    ErrorType = "authentication_error"
)

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewModelError creates an APIError for model-related errors.
func NewModelError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeModelError,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate limiting and full queues.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}

// NewAuthenticationError creates an APIError for missing or invalid credentials.
func NewAuthenticationError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeAuthentication,
		Message: message,
	}
}

// NewEngineUnavailableError creates an APIError for requests that need a
// ready engine.
func NewEngineUnavailableError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeEngineUnavailable,
		Code:    "engine_not_ready",
		Message: message,
	}
}

// FromError converts well-known errors into an APIError. Errors that are
// already an *APIError are returned unchanged; anything else becomes a
// server error carrying err's message.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var (
		loadErr   *LoadError
		streamErr *StreamError
	)
	switch {
	case errors.Is(err, ErrNotInitialized), errors.Is(err, ErrEngineNotReady), errors.Is(err, ErrEngineClosed):
		return NewEngineUnavailableError(err.Error())
	case errors.As(err, &loadErr), errors.As(err, &streamErr):
		return NewModelError(err.Error())
	case errors.Is(err, ErrEngineBusy), errors.Is(err, ErrSendInProgress):
		return NewTooManyRequestsError(err.Error())
	case errors.Is(err, ErrEmptySequence), errors.Is(err, ErrBatchSize),
		errors.Is(err, ErrPaddedSequence), errors.Is(err, ErrRaggedMatrix):
		return NewModelError(err.Error())
	}
	return NewServerError(err.Error())
}
