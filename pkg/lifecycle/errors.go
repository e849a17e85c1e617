package lifecycle

import (
	"errors"
	"fmt"
)

// ErrAlreadyRun is returned by a second call to Coordinator.Run.
var ErrAlreadyRun = errors.New("lifecycle: coordinator already run")

// ConnectionError reports that the room connection could not be established.
// Connections are never retried.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "connect: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// StartError reports that the session pipeline failed to start.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return "start: " + e.Err.Error() }
func (e *StartError) Unwrap() error { return e.Err }

// RuntimeFailure reports that a running session ended with an error.
type RuntimeFailure struct {
	Err error
}

func (e *RuntimeFailure) Error() string { return "runtime: " + e.Err.Error() }
func (e *RuntimeFailure) Unwrap() error { return e.Err }

// Teardown steps.
const (
	StepClose    = "close"
	StepShutdown = "shutdown"
)

// TeardownError reports a failed teardown step.
type TeardownError struct {
	Step string
	Err  error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown %s: %v", e.Step, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
