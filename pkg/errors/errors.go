package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/waveq/waveq-engine/pkg/models"
)

// Code categorizes engine errors so callers can distinguish "fix your
// request" from "retry later" from "look at the status channel".
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeAdmission         Code = "ADMISSION_ERROR"
	CodeExecution         Code = "EXECUTION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	CodeTransient         Code = "TRANSIENT_ERROR"
	CodeTimeout           Code = "TIMEOUT_ERROR"
)

// EngineError is the base structured error for the engine.
type EngineError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ValidationError reports a malformed, missing, or out-of-range operation
// parameter. It names one offending field so the caller can correct the
// request one field at a time.
type ValidationError struct {
	EngineError
	OpIndex int
	OpKind  models.OperationKind
	Field   string
}

func NewValidationError(opIndex int, kind models.OperationKind, field, message string) *ValidationError {
	return &ValidationError{
		EngineError: EngineError{Code: CodeValidation, Message: message},
		OpIndex:     opIndex,
		OpKind:      kind,
		Field:       field,
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] operation %d (%s) field %q: %s", e.Code, e.OpIndex, e.OpKind, e.Field, e.Message)
}

// AdmissionError reports backpressure: the per-client limit on active
// requests is exceeded. Distinct from validation so clients know to retry
// later rather than change the request.
type AdmissionError struct {
	EngineError
	ClientID string
	Active   int
	Limit    int
}

func NewAdmissionError(clientID string, active, limit int) *AdmissionError {
	return &AdmissionError{
		EngineError: EngineError{
			Code:    CodeAdmission,
			Message: fmt.Sprintf("client %s has %d active requests (limit %d)", clientID, active, limit),
		},
		ClientID: clientID,
		Active:   active,
		Limit:    limit,
	}
}

// ExecutionError reports an operation executor that failed irrecoverably
// after transient retries were exhausted.
type ExecutionError struct {
	EngineError
	OpIndex int
	OpKind  models.OperationKind
}

func NewExecutionError(opIndex int, kind models.OperationKind, cause error) *ExecutionError {
	return &ExecutionError{
		EngineError: EngineError{
			Code:    CodeExecution,
			Message: fmt.Sprintf("operation %d (%s) failed", opIndex, kind),
			Cause:   cause,
		},
		OpIndex: opIndex,
		OpKind:  kind,
	}
}

// NotFoundError reports a query, cancel, or delete against an unknown id.
type NotFoundError struct {
	EngineError
	ID string
}

func NewNotFoundError(id string) *NotFoundError {
	return &NotFoundError{
		EngineError: EngineError{Code: CodeNotFound, Message: fmt.Sprintf("request %s not found", id)},
		ID:          id,
	}
}

// IllegalTransitionError signals a state-machine invariant violation. It is
// an internal defect class: logged loudly, never expected in normal
// operation.
type IllegalTransitionError struct {
	EngineError
	ID   string
	From models.RequestStatus
	To   models.RequestStatus
}

func NewIllegalTransitionError(id string, from, to models.RequestStatus) *IllegalTransitionError {
	return &IllegalTransitionError{
		EngineError: EngineError{
			Code:    CodeIllegalTransition,
			Message: fmt.Sprintf("request %s: illegal transition %s -> %s", id, from, to),
		},
		ID:   id,
		From: from,
		To:   to,
	}
}

// Transient marks an executor fault worth retrying with backoff. Timeouts
// are wrapped in it by the pipeline.
func Transient(message string, cause error) *EngineError {
	return &EngineError{Code: CodeTransient, Message: message, Cause: cause}
}

// NewTimeoutError reports that a single operation attempt overran its bound.
func NewTimeoutError(what string, limit time.Duration) *EngineError {
	return &EngineError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s exceeded the %s operation timeout", what, limit),
	}
}

// IsTransient reports whether any error in the chain carries the transient
// or timeout code.
func IsTransient(err error) bool {
	for err != nil {
		var ee *EngineError
		if stderrors.As(err, &ee) {
			if ee.Code == CodeTransient || ee.Code == CodeTimeout {
				return true
			}
			err = ee.Cause
			continue
		}
		return false
	}
	return false
}

// CodeOf extracts the engine error code, or empty for foreign errors.
func CodeOf(err error) Code {
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve.Code
	}
	var ae *AdmissionError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	var xe *ExecutionError
	if stderrors.As(err, &xe) {
		return xe.Code
	}
	var ne *NotFoundError
	if stderrors.As(err, &ne) {
		return ne.Code
	}
	var ie *IllegalTransitionError
	if stderrors.As(err, &ie) {
		return ie.Code
	}
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// As is a typed convenience over errors.As.
func As[T error](err error) (T, bool) {
	var target T
	ok := stderrors.As(err, &target)
	return target, ok
}
