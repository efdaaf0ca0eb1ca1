// Package errors provides standardized error handling across both transports.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/fredcamaral/gomcp-sdk/protocol"
)

// ErrorCode is a semantic error code shared by the MCP and HTTP surfaces.
type ErrorCode string

const (
	// Caller errors
	ErrorCodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeConflict          ErrorCode = "CONFLICT"
	ErrorCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Auth errors
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden    ErrorCode = "FORBIDDEN"

	// Rate limiting
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"

	// System errors
	ErrorCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrorCodeServiceDegraded    ErrorCode = "SERVICE_DEGRADED"
	ErrorCodeInternal           ErrorCode = "INTERNAL"
)

// StandardError is the unified error payload for all protocols.
type StandardError struct {
	ErrorInfo ErrorDetails `json:"error"`
}

// Error implements the Go error interface.
func (e *StandardError) Error() string {
	return e.ErrorInfo.Message
}

// ErrorDetails carries the code, human message, and optional structured detail.
type ErrorDetails struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

// ValidationDetail identifies the offending field on an invalid-argument error.
type ValidationDetail struct {
	Field  string      `json:"field"`
	Reason string      `json:"reason"`
	Value  interface{} `json:"value,omitempty"`
}

// New creates a StandardError with the given code and message.
func New(code ErrorCode, message string, details interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewInvalidArgument creates a field-level invalid-argument error.
func NewInvalidArgument(field, reason string, value interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInvalidArgument,
			Message: fmt.Sprintf("invalid argument '%s': %s", field, reason),
			Details: ValidationDetail{Field: field, Reason: reason, Value: value},
		},
	}
}

// NewRequiredField creates an invalid-argument error for a missing field.
func NewRequiredField(field string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInvalidArgument,
			Message: fmt.Sprintf("required field '%s' is missing", field),
			Details: ValidationDetail{Field: field, Reason: "missing_required_field"},
		},
	}
}

// NewNotFound creates a not-found error for a resource by id.
func NewNotFound(resource, id string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeNotFound,
			Message: fmt.Sprintf("%s not found: %s", resource, id),
			Details: map[string]interface{}{"resource": resource, "id": id},
		},
	}
}

// NewInvalidTransition creates a suggestion lifecycle transition error.
func NewInvalidTransition(from, to string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInvalidTransition,
			Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
			Details: map[string]interface{}{"from": from, "to": to},
		},
	}
}

// NewBackendUnavailable wraps a backend failure.
func NewBackendUnavailable(backend string, cause error) *StandardError {
	details := map[string]interface{}{"backend": backend}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeBackendUnavailable,
			Message: fmt.Sprintf("backend unavailable: %s", backend),
			Details: details,
		},
	}
}

// NewInternal wraps an unexpected internal failure.
func NewInternal(message string, cause error) *StandardError {
	var details interface{}
	if cause != nil {
		details = map[string]interface{}{"cause": cause.Error()}
	}
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInternal,
			Message: message,
			Details: details,
		},
	}
}

// WithTraceID attaches a trace ID for log correlation.
func (e *StandardError) WithTraceID(traceID string) *StandardError {
	e.ErrorInfo.TraceID = traceID
	return e
}

// ToJSONRPCError converts the error to a JSON-RPC response for the MCP surface.
func (e *StandardError) ToJSONRPCError(id interface{}) *protocol.JSONRPCResponse {
	var rpcCode int
	switch e.ErrorInfo.Code {
	case ErrorCodeInvalidArgument, ErrorCodeInvalidTransition:
		rpcCode = -32602 // Invalid params
	case ErrorCodeInternal:
		rpcCode = -32603 // Internal error
	case ErrorCodeNotFound, ErrorCodeConflict, ErrorCodeUnauthorized, ErrorCodeForbidden:
		rpcCode = -32000 // Server error (custom range)
	case ErrorCodeRateLimited:
		rpcCode = -32001
	case ErrorCodeBackendUnavailable, ErrorCodeServiceDegraded:
		rpcCode = -32002
	default:
		rpcCode = -32603
	}

	return &protocol.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &protocol.JSONRPCError{
			Code:    rpcCode,
			Message: e.ErrorInfo.Message,
			Data:    e,
		},
	}
}

// ToHTTPStatus maps the error code to an HTTP status.
func (e *StandardError) ToHTTPStatus() int {
	switch e.ErrorInfo.Code {
	case ErrorCodeInvalidArgument, ErrorCodeInvalidTransition:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeConflict:
		return http.StatusConflict
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodeBackendUnavailable, ErrorCodeServiceDegraded:
		return http.StatusServiceUnavailable
	case ErrorCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON serializes the error payload.
func (e *StandardError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WriteHTTPError writes the error as an HTTP response.
func (e *StandardError) WriteHTTPError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if e.ErrorInfo.TraceID != "" {
		w.Header().Set("X-Trace-ID", e.ErrorInfo.TraceID)
	}
	w.WriteHeader(e.ToHTTPStatus())
	jsonBytes, _ := e.ToJSON()
	_, _ = w.Write(jsonBytes)
}

// FromError converts any error to a StandardError, preserving one that
// already is.
func FromError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var se *StandardError
	if stderrors.As(err, &se) {
		return se
	}
	return NewInternal(err.Error(), nil)
}

// Code extracts the semantic code from an error, or INTERNAL for plain errors.
func Code(err error) ErrorCode {
	se := FromError(err)
	if se == nil {
		return ""
	}
	return se.ErrorInfo.Code
}

// IsNotFound reports whether the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return Code(err) == ErrorCodeNotFound
}

// IsInvalidArgument reports whether the error carries the INVALID_ARGUMENT code.
func IsInvalidArgument(err error) bool {
	return Code(err) == ErrorCodeInvalidArgument
}

// Predefined common errors.
var (
	ErrContentRequired = NewRequiredField("content")
	ErrQueryRequired   = NewRequiredField("query")
	ErrIDRequired      = NewRequiredField("id")

	ErrUnauthorizedAccess = New(ErrorCodeUnauthorized, "authentication required", nil)
	ErrServiceDegraded    = New(ErrorCodeServiceDegraded, "service operating in degraded mode", nil)
)
