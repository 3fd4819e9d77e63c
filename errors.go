package ocdb

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nlstn/go-ocdb/internal/filter"
	"github.com/nlstn/go-ocdb/internal/query"
	"github.com/nlstn/go-ocdb/internal/store"
)

// Sentinel errors for common error conditions.
// These can be used with errors.Is() for error handling.
var (
	// ErrDatasetNotFound indicates the requested dataset does not exist.
	// Maps to HTTP 404 Not Found.
	ErrDatasetNotFound = store.ErrNotFound

	// ErrValidationError indicates the request data failed validation.
	// Maps to HTTP 400 Bad Request.
	ErrValidationError = errors.New("ocdb: validation error")

	// ErrInvalidQuery indicates a query expression that parses but cannot
	// be evaluated, e.g. a range without a field name.
	// Maps to HTTP 400 Bad Request.
	ErrInvalidQuery = errors.New("ocdb: invalid query")

	// ErrMethodNotAllowed indicates the method is not supported for the path.
	// Maps to HTTP 405 Method Not Allowed.
	ErrMethodNotAllowed = errors.New("ocdb: method not allowed")

	// ErrPreconditionFailed indicates an If-Match header that does not match
	// the current dataset.
	// Maps to HTTP 412 Precondition Failed.
	ErrPreconditionFailed = errors.New("ocdb: precondition failed")

	// ErrInternalServerError indicates an unexpected server error.
	// Maps to HTTP 500 Internal Server Error.
	ErrInternalServerError = errors.New("ocdb: internal server error")
)

// ErrorCode is the machine readable code of an error response.
type ErrorCode string

const (
	ErrorCodeGeneral             ErrorCode = "General"
	ErrorCodeNotFound            ErrorCode = "NotFound"
	ErrorCodeBadRequest          ErrorCode = "BadRequest"
	ErrorCodeSyntaxError         ErrorCode = "SyntaxError"
	ErrorCodeMethodNotAllowed    ErrorCode = "MethodNotAllowed"
	ErrorCodePreconditionFailed  ErrorCode = "PreconditionFailed"
	ErrorCodeInternalServerError ErrorCode = "InternalServerError"
)

// ServiceError is a structured error carrying the HTTP status code, error
// code and message of an error response.
type ServiceError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Code is the error code.
	Code ErrorCode

	// Message is a human-readable error description.
	Message string

	// Target optionally names the request part that caused the error, e.g.
	// the "expr" query parameter.
	Target string

	// Details provides additional error information.
	Details []ErrorDetail

	// Err is the underlying error, if any.
	Err error
}

// ErrorDetail is additional information in an error response.
type ErrorDetail struct {
	Code    string
	Target  string
	Message string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is() and errors.As().
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// MapErrorToHTTPStatus returns the HTTP status code for err.
func MapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && serviceErr.StatusCode != 0 {
		return serviceErr.StatusCode
	}

	switch {
	case query.IsSyntaxError(err),
		errors.Is(err, query.ErrInvalidTerm),
		errors.Is(err, filter.ErrUnscopedRange),
		errors.Is(err, filter.ErrNoWildcard),
		errors.Is(err, ErrInvalidQuery),
		errors.Is(err, store.ErrInvalidStatus),
		errors.Is(err, ErrValidationError):
		return http.StatusBadRequest
	case errors.Is(err, ErrDatasetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	}

	return http.StatusInternalServerError
}

// IsValidationError returns true if the error is caused by invalid input.
func IsValidationError(err error) bool {
	return MapErrorToHTTPStatus(err) == http.StatusBadRequest
}

// IsNotFoundError returns true if the error indicates a dataset was not found.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrDatasetNotFound)
}

// toServiceError converts err into the ServiceError that is rendered.
// Messages of unexpected errors are not exposed.
func toServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && serviceErr.StatusCode != 0 {
		return serviceErr
	}

	var syntaxErr *query.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &ServiceError{
			StatusCode: http.StatusBadRequest,
			Code:       ErrorCodeSyntaxError,
			Message:    syntaxErr.Msg,
			Target:     "expr",
			Details: []ErrorDetail{{
				Code:    string(ErrorCodeSyntaxError),
				Target:  "expr",
				Message: fmt.Sprintf("position %d", syntaxErr.Pos),
			}},
			Err: err,
		}
	}

	status := MapErrorToHTTPStatus(err)
	se := &ServiceError{StatusCode: status, Message: err.Error(), Err: err}
	switch status {
	case http.StatusBadRequest:
		se.Code = ErrorCodeBadRequest
	case http.StatusNotFound:
		se.Code = ErrorCodeNotFound
	case http.StatusMethodNotAllowed:
		se.Code = ErrorCodeMethodNotAllowed
	case http.StatusPreconditionFailed:
		se.Code = ErrorCodePreconditionFailed
	default:
		se.Code = ErrorCodeInternalServerError
		se.Message = "Internal server error"
	}
	return se
}

func validationError(target, format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		StatusCode: http.StatusBadRequest,
		Code:       ErrorCodeBadRequest,
		Message:    fmt.Sprintf(format, args...),
		Target:     target,
		Err:        ErrValidationError,
	}
}
