package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for controller operations
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Input errors
	ErrCodeMalformedInput ErrorCode = 1000
	ErrCodeMissingField   ErrorCode = 1001
	ErrCodeInvalidField   ErrorCode = 1002
	ErrCodeEmptyBatch     ErrorCode = 1003
	ErrCodeUnknownAP      ErrorCode = 1004
	ErrCodeUnknownSwitch  ErrorCode = 1005
	ErrCodeUnknownMessage ErrorCode = 1006
	ErrCodeRateLimited    ErrorCode = 1007
	ErrCodeHairpinRule    ErrorCode = 1008

	// Controller errors
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeSendFailed        ErrorCode = 2001
	ErrCodeSessionClosed     ErrorCode = 2002
	ErrCodePersistenceFailed ErrorCode = 2003
	ErrCodeResourceExhausted ErrorCode = 2004
)

// ControllerError represents a structured error with code and context
type ControllerError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *ControllerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *ControllerError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts ControllerError to gRPC status
func (e *ControllerError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *ControllerError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeMalformedInput, ErrCodeMissingField, ErrCodeInvalidField,
		ErrCodeEmptyBatch, ErrCodeUnknownMessage:
		return codes.InvalidArgument
	case ErrCodeUnknownAP, ErrCodeUnknownSwitch:
		return codes.NotFound
	case ErrCodeHairpinRule:
		return codes.FailedPrecondition
	case ErrCodeRateLimited, ErrCodeResourceExhausted:
		return codes.ResourceExhausted
	case ErrCodeSendFailed, ErrCodeSessionClosed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewControllerError creates a new ControllerError
func NewControllerError(code ErrorCode, message string, cause error) *ControllerError {
	return &ControllerError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *ControllerError) WithDetail(key string, value interface{}) *ControllerError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func MalformedInput(message string, cause error) *ControllerError {
	return NewControllerError(ErrCodeMalformedInput, message, cause)
}

func MissingField(field string) *ControllerError {
	return NewControllerError(ErrCodeMissingField, fmt.Sprintf("missing required field '%s'", field), nil).
		WithDetail("field", field)
}

func InvalidField(field, reason string) *ControllerError {
	return NewControllerError(ErrCodeInvalidField, fmt.Sprintf("invalid field '%s': %s", field, reason), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func EmptyBatch() *ControllerError {
	return NewControllerError(ErrCodeEmptyBatch, "batch contains no entries", nil)
}

func UnknownMessage(reason string) *ControllerError {
	return NewControllerError(ErrCodeUnknownMessage, fmt.Sprintf("unrecognised message: %s", reason), nil)
}

func UnknownAP(apID string) *ControllerError {
	return NewControllerError(ErrCodeUnknownAP, fmt.Sprintf("unknown access point: %s", apID), nil).
		WithDetail("ap_id", apID)
}

func UnknownSwitch(id fmt.Stringer) *ControllerError {
	return NewControllerError(ErrCodeUnknownSwitch, fmt.Sprintf("switch not connected: %s", id), nil).
		WithDetail("dpid", id.String())
}

// HairpinRule rejects a rule that would send traffic back out its ingress port
func HairpinRule(port uint32) *ControllerError {
	return NewControllerError(ErrCodeHairpinRule, fmt.Sprintf("rule would output back to its ingress port %d", port), nil).
		WithDetail("port", port)
}

func RateLimited(listener string) *ControllerError {
	return NewControllerError(ErrCodeRateLimited, fmt.Sprintf("%s: datagram rate exceeded", listener), nil).
		WithDetail("listener", listener)
}

func InternalError(message string, cause error) *ControllerError {
	return NewControllerError(ErrCodeInternal, message, cause)
}

func SendFailed(message string, cause error) *ControllerError {
	return NewControllerError(ErrCodeSendFailed, message, cause)
}

func SessionClosed(id fmt.Stringer) *ControllerError {
	return NewControllerError(ErrCodeSessionClosed, fmt.Sprintf("session closed: %s", id), nil).
		WithDetail("dpid", id.String())
}

func PersistenceFailed(message string, cause error) *ControllerError {
	return NewControllerError(ErrCodePersistenceFailed, message, cause)
}

func ResourceExhausted(resource string, current, limit int) *ControllerError {
	return NewControllerError(ErrCodeResourceExhausted, fmt.Sprintf("%s exhausted: %d/%d", resource, current, limit), nil).
		WithDetail("resource", resource).
		WithDetail("current", current).
		WithDetail("limit", limit)
}

// IsControllerError checks if an error is, or wraps, a ControllerError
func IsControllerError(err error) bool {
	var ce *ControllerError
	return stderrors.As(err, &ce)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var ce *ControllerError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// IsInputError reports whether err was caused by bad external input
func IsInputError(err error) bool {
	code := GetCode(err)
	return code >= 1000 && code < 2000
}
