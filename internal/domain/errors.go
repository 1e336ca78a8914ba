package domain

import (
	"errors"
	"fmt"
)

type ErrorType int

const (
	ErrorTypeValidation ErrorType = iota
	ErrorTypePermissionDenied
	ErrorTypeLicenseRequired
	ErrorTypeNotFound
	ErrorTypeTimeout
	ErrorTypeNodeFailure
	ErrorTypeScheduleInvalid
	ErrorTypeSecurityViolation
	ErrorTypeLimitExceeded
	ErrorTypeCancelled
	ErrorTypeConflict
	ErrorTypeInternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypePermissionDenied:
		return "PERMISSION_DENIED"
	case ErrorTypeLicenseRequired:
		return "LICENSE_REQUIRED"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeNodeFailure:
		return "NODE_FAILURE"
	case ErrorTypeScheduleInvalid:
		return "SCHEDULE_INVALID"
	case ErrorTypeSecurityViolation:
		return "SECURITY_VIOLATION"
	case ErrorTypeLimitExceeded:
		return "LIMIT_EXCEEDED"
	case ErrorTypeCancelled:
		return "CANCELLED"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is the kind-tagged error carried across component boundaries.
// Details hold structured context for logging; user-facing surfaces expose
// only Type and Message.
type Error struct {
	Type    ErrorType
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e Error) Unwrap() error {
	return e.Cause
}

var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrAlreadyStopped = errors.New("already stopped")
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrCancelled      = errors.New("execution cancelled")
)

func NewNotFoundError(resource, id string) Error {
	return Error{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

func NewNodeFailureError(nodeID string, cause error) Error {
	return Error{
		Type:    ErrorTypeNodeFailure,
		Message: fmt.Sprintf("node %s failed", nodeID),
		Details: map[string]interface{}{
			"node_id": nodeID,
		},
		Cause: cause,
	}
}

func NewTimeoutError(what string) Error {
	return Error{
		Type:    ErrorTypeTimeout,
		Message: what + " deadline exceeded",
	}
}

func NewScheduleInvalidError(field, reason string) Error {
	return Error{
		Type:    ErrorTypeScheduleInvalid,
		Message: fmt.Sprintf("invalid schedule %s: %s", field, reason),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

func NewPermissionDeniedError(workflowID, userID string) Error {
	return Error{
		Type:    ErrorTypePermissionDenied,
		Message: "execution not permitted",
		Details: map[string]interface{}{
			"workflow_id": workflowID,
			"user_id":     userID,
		},
	}
}

func NewLicenseRequiredError(feature string) Error {
	return Error{
		Type:    ErrorTypeLicenseRequired,
		Message: "feature not entitled: " + feature,
		Details: map[string]interface{}{
			"feature": feature,
		},
	}
}

func ErrorTypeOf(err error) (ErrorType, bool) {
	var de Error
	if errors.As(err, &de) {
		return de.Type, true
	}
	return 0, false
}

func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	t, ok := ErrorTypeOf(err)
	return ok && t == ErrorTypeNotFound
}

func IsTimeout(err error) bool {
	t, ok := ErrorTypeOf(err)
	return ok && t == ErrorTypeTimeout
}

func IsSecurityViolation(err error) bool {
	t, ok := ErrorTypeOf(err)
	return ok && t == ErrorTypeSecurityViolation
}

// PanicError captures a recovered panic from a node handler so the engine
// can record it without crashing the traversal.
type PanicError struct {
	NodeID     string
	PanicValue interface{}
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.PanicValue)
}
