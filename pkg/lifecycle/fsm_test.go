package lifecycle

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestTransitionHappyPath(t *testing.T) {
	is := is.New(t)

	s := StateCreated
	for _, step := range []struct {
		event Event
		want  State
	}{
		{EventConnect, StateConnected},
		{EventStart, StateStarted},
		{EventRun, StateRunning},
		{EventStop, StateClosing},
		{EventShutdown, StateShutdown},
	} {
		next, err := Transition(s, step.event)
		is.NoErr(err)
		is.Equal(next, step.want)
		s = next
	}
}

func TestTransitionAbortBeforeRunning(t *testing.T) {
	is := is.New(t)

	for _, state := range []State{StateCreated, StateConnected, StateStarted} {
		next, err := Transition(state, EventAbort)
		is.NoErr(err)
		is.Equal(next, StateClosing)
	}
}

func TestTransitionInvalid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
	}{
		{"created start skips connect", StateCreated, EventStart},
		{"created run", StateCreated, EventRun},
		{"created shutdown", StateCreated, EventShutdown},
		{"connected run skips start", StateConnected, EventRun},
		{"connected stop", StateConnected, EventStop},
		{"started stop skips run", StateStarted, EventStop},
		{"running abort", StateRunning, EventAbort},
		{"running shutdown skips closing", StateRunning, EventShutdown},
		{"closing stop", StateClosing, EventStop},
		{"shutdown connect", StateShutdown, EventConnect},
		{"shutdown shutdown", StateShutdown, EventShutdown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			next, err := Transition(tt.state, tt.event)
			is.Equal(next, tt.state)
			is.True(err != nil)
			is.True(strings.Contains(err.Error(), "invalid transition"))
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	is := is.New(t)

	next, err := Transition(State("mystery"), EventConnect)
	is.Equal(next, State("mystery"))
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "unknown state"))
}
