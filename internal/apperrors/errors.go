// Package apperrors defines the categorized error taxonomy shared by the
// ranking check pipeline and the HTTP API.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rank-tracker/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryConflict represents duplicate-active-job conflicts
	CategoryConflict ErrorCategory = "conflict"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryMetering represents credit metering errors
	CategoryMetering ErrorCategory = "metering"
	// CategoryUpstream represents search API fetch errors
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryDatabase represents datastore errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents internal errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// Stable error codes used across the pipeline (see the fetch taxonomy in
// the serp client and the job admission rules in the check service).
const (
	CodeConflict            = "CONFLICT"
	CodeNoWork              = "NO_WORK"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeEmptyQuery          = "EMPTY_QUERY"
	CodeNoResults           = "NO_RESULTS"
	CodeFetchTimeout        = "FETCH_TIMEOUT"
	CodeAuthInvalid         = "AUTH_INVALID"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUpstreamMaintenance = "UPSTREAM_MAINTENANCE"
	CodeUpstreamError       = "UPSTREAM_ERROR"
	CodeClassNotFound       = "CLASS_NOT_FOUND"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidConfirmation = "INVALID_CONFIRMATION"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError for API responses
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewConflictError creates a duplicate-active-job error carrying the existing
// job so callers can render "check already running" instead of a generic error
func NewConflictError(existingJobID string, status types.JobStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeConflict,
		Message:    "a ranking check is already running for this class",
		Details: map[string]interface{}{
			"existingJobId": existingJobID,
			"status":        string(status),
		},
	}
}

// NewNoWorkError creates an error for an enqueue with zero keywords to check
func NewNoWorkError(classID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeNoWork,
		Message:    "class has no keywords to check",
		Details: map[string]interface{}{
			"classId": classID,
		},
	}
}

// NewInsufficientCreditsError creates a metering gate error
func NewInsufficientCreditsError(needed, available int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMetering,
		StatusCode: http.StatusPaymentRequired,
		Code:       CodeInsufficientCredits,
		Message:    fmt.Sprintf("Insufficient credits (need %d, have %d)", needed, available),
		Details: map[string]interface{}{
			"needed":    needed,
			"available": available,
		},
	}
}

// NewClassNotFoundError creates a missing-class error
func NewClassNotFoundError(classID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeClassNotFound,
		Message:    fmt.Sprintf("class not found: %s", classID),
		Details: map[string]interface{}{
			"classId": classID,
		},
	}
}

// NewNotFoundError creates a generic not found error
func NewNotFoundError(resource, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInvalidConfirmationError creates an error for a manual credit adjustment
// attempted without the required confirmation token
func NewInvalidConfirmationError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidConfirmation,
		Message:    "credit adjustment requires a valid confirmation token",
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidInput,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// Upstream fetch errors (see serp client taxonomy)

// NewFetchError creates an upstream fetch error with a stable taxonomy code
func NewFetchError(code, message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}

// NewFetchTimeoutError creates a page request timeout error
func NewFetchTimeoutError(keyword string, page int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeFetchTimeout,
		Message:    fmt.Sprintf("search fetch timed out for %q on page %d", keyword, page),
		Cause:      cause,
		Details: map[string]interface{}{
			"keyword": keyword,
			"page":    page,
		},
	}
}

// NewDatabaseError creates a datastore error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize wraps an arbitrary error into a CategorizedError
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}
	return NewInternalError("unexpected error", err)
}

// Is reports whether err carries the given taxonomy code
func Is(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an upstream error is worth retrying. Rate limit
// and maintenance responses are transient; auth and query errors are not.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	switch catErr.Code {
	case CodeRateLimited, CodeUpstreamMaintenance, CodeUpstreamError:
		return true
	default:
		return false
	}
}
