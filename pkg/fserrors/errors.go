// Package fserrors provides structured error handling for Foresight with rich
// context, stack traces, and error categorization.
//
// Errors carry a type for handling strategy (retry decisions, metrics labels),
// a details map for debugging context, and the call stack captured at creation.
// The forecast-specific categories map directly onto the failure modes of
// partitioned forecasting:
//
//   - ErrorTypeInsufficientHistory: too few observations in the training window
//     to fit the chosen model. Never retryable.
//   - ErrorTypeMergeInconsistency: batch frames with drifting column sets.
//     Fatal for the affected partition.
//   - ErrorTypeForecast: the pluggable forecasting procedure failed during fit
//     or predict.
//
// All errors are partition-scoped: a failure carries its partition key as a
// detail and must never abort sibling partitions.
package fserrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error, used for handling strategies,
// retry decisions, and metrics labels.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeInsufficientHistory represents a training window with too few
	// observations for the forecasting procedure
	ErrorTypeInsufficientHistory ErrorType = "insufficient_history"
	// ErrorTypeMergeInconsistency represents incompatible column sets between
	// batch frames of the same partition
	ErrorTypeMergeInconsistency ErrorType = "merge_inconsistency"
	// ErrorTypeForecast represents a failure inside the pluggable forecasting
	// procedure
	ErrorTypeForecast ErrorType = "forecast_procedure"
)

// Error represents a structured error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, enabling errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Chainable.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithPartition attaches the partition key the error occurred in.
func (e *Error) WithPartition(key string) *Error {
	return e.WithDetail("partition", key)
}

// Partition returns the partition key attached to the error, if any.
func (e *Error) Partition() (string, bool) {
	if e.Details == nil {
		return "", false
	}
	key, ok := e.Details["partition"].(string)
	return key, ok
}

// New creates a new error with the given type and message, capturing the call
// stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context, preserving the original
// error as the cause. If the error is already a structured Error, its stack
// trace is preserved. Returns nil if the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// NewInsufficientHistory reports a partition whose training window holds fewer
// observations than the forecasting procedure needs. The partition key, the
// observed count, and the required minimum are attached as details.
func NewInsufficientHistory(partition string, observed, required int) *Error {
	return Newf(ErrorTypeInsufficientHistory,
		"partition has %d observations, procedure requires at least %d", observed, required).
		WithPartition(partition).
		WithDetail("observed", observed).
		WithDetail("required", required)
}

// NewMergeInconsistency reports batch frames whose column sets drifted apart
// mid-stream.
func NewMergeInconsistency(partition string, want, got []string) *Error {
	e := New(ErrorTypeMergeInconsistency, "batch frames have incompatible columns").
		WithDetail("expected_columns", want).
		WithDetail("actual_columns", got)
	if partition != "" {
		e = e.WithPartition(partition)
	}
	return e
}

// WrapForecast wraps a failure raised by the pluggable forecasting procedure,
// attaching the partition key and procedure name.
func WrapForecast(err error, partition, procedure string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, ErrorTypeForecast, "forecasting procedure failed").
		WithPartition(partition).
		WithDetail("procedure", procedure)
}

// IsRetryable returns true if the error may be retried. Connection and timeout
// errors are transient; forecast-procedure errors are retryable unless they
// wrap an insufficient-history failure, which a retry can never fix.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeForecast:
		return !IsType(e.Cause, ErrorTypeInsufficientHistory)
	default:
		return false
	}
}

// IsType checks if the error (or any error in its chain) is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Type == errType {
		return true
	}
	return IsType(e.Cause, errType)
}

// GetType returns the error type, or ErrorTypeInternal for unstructured errors.
func GetType(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// captureStack captures up to 16 frames, skipping runtime internals.
func captureStack(skip int) []StackFrame {
	const depth = 16
	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]StackFrame, 0, n)
	for {
		frame, more := frames.Next()
		stack = append(stack, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return stack
}
