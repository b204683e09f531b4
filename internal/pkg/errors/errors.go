// Package errors provides custom error types and error handling utilities.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Engine errors. All of them are recoverable by the caller.
	CodeInvalidRanking     = "INVALID_RANKING"
	CodeMisalignedQuerySet = "MISALIGNED_QUERY_SET"
	CodeEmptyJudgmentSet   = "EMPTY_JUDGMENT_SET"
	CodeInvalidParameter   = "INVALID_PARAMETER"

	// Client errors (4xx).
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInvalidRequest = "INVALID_REQUEST"

	// Server errors (5xx).
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest, CodeInvalidParameter:
		return http.StatusBadRequest
	case CodeInvalidRanking, CodeMisalignedQuerySet, CodeEmptyJudgmentSet:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// InvalidRanking reports a malformed or empty ranking.
func InvalidRanking(format string, args ...any) *AppError {
	return New(CodeInvalidRanking, fmt.Sprintf(format, args...))
}

// MisalignedQuerySet reports rankings whose query sets cannot be reconciled.
func MisalignedQuerySet(format string, args ...any) *AppError {
	return New(CodeMisalignedQuerySet, fmt.Sprintf(format, args...))
}

// EmptyJudgmentSet reports a judgment set without queries.
func EmptyJudgmentSet() *AppError {
	return New(CodeEmptyJudgmentSet, "judgment set has no queries")
}

// InvalidParameter reports a parameter outside a strategy's valid domain.
func InvalidParameter(format string, args ...any) *AppError {
	return New(CodeInvalidParameter, fmt.Sprintf(format, args...))
}

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// InvalidRequestError creates an invalid request error.
func InvalidRequestError(message string) *AppError {
	return New(CodeInvalidRequest, message)
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// Code returns the code of the first AppError in err's chain, or "".
func Code(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// IsInvalidRanking checks if error is an invalid ranking error.
func IsInvalidRanking(err error) bool { return Is(err, CodeInvalidRanking) }

// IsMisaligned checks if error is a misaligned query set error.
func IsMisaligned(err error) bool { return Is(err, CodeMisalignedQuerySet) }

// IsEmptyJudgmentSet checks if error is an empty judgment set error.
func IsEmptyJudgmentSet(err error) bool { return Is(err, CodeEmptyJudgmentSet) }

// IsInvalidParameter checks if error is an invalid parameter error.
func IsInvalidParameter(err error) bool { return Is(err, CodeInvalidParameter) }

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool { return Is(err, CodeValidation) }

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, nothing to do on failure.
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with proper sanitization.
// AppErrors keep their code and message; anything else is reported as an
// opaque internal error.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}
