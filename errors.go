package synthtext

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/ncecere/synthtext/providerutil"
)

// Package-level error values returned by the synthtext package.
var (
	// ErrInvalidParameter is matched by every *ValidationError.
	ErrInvalidParameter = errors.New("synthtext: invalid parameter")

	// ErrMissingTransport is returned when an Engine is created without
	// a transport.
	ErrMissingTransport = errors.New("synthtext: missing transport")

	// ErrMissingEngine is returned when a request is built without an
	// Engine.
	ErrMissingEngine = errors.New("synthtext: missing engine")

	// ErrRequestConsumed is returned when a CompletionRequest is
	// modified or executed after it has already been executed once.
	ErrRequestConsumed = errors.New("synthtext: completion request already executed")

	// ErrTransport is matched by execution errors of KindTransport.
	ErrTransport = errors.New("synthtext: transport failure")

	// ErrAPI is matched by execution errors of KindAPI.
	ErrAPI = errors.New("synthtext: api failure")

	// ErrDecode is matched by execution errors of KindDecode.
	ErrDecode = errors.New("synthtext: decode failure")
)

// ValidationError indicates that a parameter is outside its allowed
// bounds. Validation happens before any network activity.
type ValidationError struct {
	// Parameter is the name of the invalid parameter.
	Parameter string
	// Value is the offending value.
	Value any
	// Message describes the violated bound.
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("synthtext: invalid %s %v: %s", e.Parameter, e.Value, e.Message)
}

// Is implements errors.Is support.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// ErrorKind identifies the layer an execution failure came from.
type ErrorKind string

const (
	// KindTransport is a connectivity failure: unreachable host, timeout,
	// reset connection. Re-issuing the request may succeed.
	KindTransport ErrorKind = "transport"
	// KindAPI is an error reported by the server, either as a non-2xx
	// response or as an error payload inside a stream.
	KindAPI ErrorKind = "api"
	// KindDecode is a payload that could not be parsed into the
	// expected shape.
	KindDecode ErrorKind = "decode"
)

// Stage names the step of an execution that failed.
type Stage string

const (
	StageConnect Stage = "connect"
	StageStatus  Stage = "status"
	StageParse   Stage = "parse"
	StageStream  Stage = "stream"
)

// ExecutionError is the single error type surfaced by ExecuteNow,
// ExecuteStream and FragmentSequence.Next. Callers switch on Kind.
type ExecutionError struct {
	Kind  ErrorKind
	Stage Stage
	// StatusCode is the HTTP status for API errors, when known.
	StatusCode int
	// Message is the server supplied message for API errors.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("synthtext: %s error during %s", e.Kind, e.Stage)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support for the kind sentinels.
func (e *ExecutionError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrAPI:
		return e.Kind == KindAPI
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// Retryable reports whether re-issuing the whole request may succeed.
// Only transport failures qualify.
func (e *ExecutionError) Retryable() bool {
	return e != nil && e.Kind == KindTransport
}

// AsExecutionError returns the *ExecutionError in err's chain, if any.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsRetryable reports whether err is a transport failure.
func IsRetryable(err error) bool {
	ee, ok := AsExecutionError(err)
	return ok && ee.Retryable()
}

func transportError(stage Stage, err error) *ExecutionError {
	return &ExecutionError{Kind: KindTransport, Stage: stage, Err: err}
}

func decodeError(stage Stage, err error) *ExecutionError {
	return &ExecutionError{Kind: KindDecode, Stage: stage, Err: err}
}

// receiveError classifies a failure reported by the transport. An
// oversized payload is a decode failure: retrying returns the same bytes.
func receiveError(stage Stage, err error) *ExecutionError {
	if errors.Is(err, providerutil.ErrTooLong) || errors.Is(err, bufio.ErrTooLong) {
		if stage == StageConnect {
			stage = StageParse
		}
		return decodeError(stage, err)
	}
	return transportError(stage, err)
}
