package graph

import "errors"

// ErrMaxSteps indicates the thread reached the superstep ceiling without
// reaching a terminal node. Guards against routing loops.
var ErrMaxSteps = errors.New("execution exceeded maximum supersteps")

// ErrMaxAttemptsExceeded indicates a node failed more times than its retry
// policy allows. The thread transitions to StatusFailed.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// ErrCancelled indicates the thread's cancellation flag was observed at a
// superstep boundary. The thread transitions to StatusCancelled with a
// terminal checkpoint.
var ErrCancelled = errors.New("thread cancelled")

// ErrInvalidRetryPolicy indicates a RetryPolicy failed validation.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// EngineError is a configuration or execution error raised by the engine
// itself, as opposed to errors produced by nodes.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
