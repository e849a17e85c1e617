package lifecycle

import "fmt"

// State is a phase of the session lifecycle.
type State string

// Event moves the lifecycle between states.
type Event string

const (
	StateCreated   State = "created"
	StateConnected State = "connected"
	StateStarted   State = "started"
	StateRunning   State = "running"
	StateClosing   State = "closing"
	StateShutdown  State = "shutdown"
)

const (
	EventConnect  Event = "connect"
	EventStart    Event = "start"
	EventRun      Event = "run"
	EventStop     Event = "stop"
	EventAbort    Event = "abort"
	EventShutdown Event = "shutdown"
)

// Transition returns the state reached by applying event to current.
// Failures before running use EventAbort to reach closing.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateCreated:
		switch event {
		case EventConnect:
			return StateConnected, nil
		case EventAbort:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnected:
		switch event {
		case EventStart:
			return StateStarted, nil
		case EventAbort:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStarted:
		switch event {
		case EventRun:
			return StateRunning, nil
		case EventAbort:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRunning:
		switch event {
		case EventStop:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateClosing:
		switch event {
		case EventShutdown:
			return StateShutdown, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateShutdown:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
