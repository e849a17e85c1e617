// Package agent defines what a voice agent is to the session: a system prompt
// and two hooks that run when the agent joins and leaves the conversation.
package agent

import (
	"context"
	"errors"
)

// ErrNoInstructions is returned by Validate for an agent without a prompt.
var ErrNoInstructions = errors.New("agent instructions are required")

// Speaker emits spoken output into the conversation.
type Speaker interface {
	// Say synthesizes text and plays it to the room. It returns once the
	// audio has been handed to the transport or ctx is done.
	Say(ctx context.Context, text string) error
}

// Agent is implemented by every voice agent.
type Agent interface {
	// Instructions is the system prompt for the language model.
	Instructions() string

	// OnEnter runs once the pipeline is live, before the first user turn.
	OnEnter(ctx context.Context, s Speaker) error

	// OnExit runs during teardown, before the transport is released.
	OnExit(ctx context.Context, s Speaker) error
}

// Hook is a lifecycle callback.
type Hook func(ctx context.Context, s Speaker) error

// Identity is an Agent built from plain values. It is immutable once
// created.
type Identity struct {
	instructions string
	onEnter      Hook
	onExit       Hook
}

// Option configures an Identity.
type Option func(*Identity)

// WithOnEnter sets the hook run when the session starts.
func WithOnEnter(h Hook) Option {
	return func(i *Identity) { i.onEnter = h }
}

// WithOnExit sets the hook run when the session closes.
func WithOnExit(h Hook) Option {
	return func(i *Identity) { i.onExit = h }
}

// WithGreeting speaks text when the session starts.
func WithGreeting(text string) Option {
	return WithOnEnter(sayHook(text))
}

// WithFarewell speaks text when the session closes.
func WithFarewell(text string) Option {
	return WithOnExit(sayHook(text))
}

func sayHook(text string) Hook {
	return func(ctx context.Context, s Speaker) error {
		return s.Say(ctx, text)
	}
}

// New creates an Identity.
func New(instructions string, opts ...Option) *Identity {
	i := &Identity{instructions: instructions}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Instructions implements Agent.
func (i *Identity) Instructions() string {
	return i.instructions
}

// OnEnter implements Agent.
func (i *Identity) OnEnter(ctx context.Context, s Speaker) error {
	if i.onEnter == nil {
		return nil
	}
	return i.onEnter(ctx, s)
}

// OnExit implements Agent.
func (i *Identity) OnExit(ctx context.Context, s Speaker) error {
	if i.onExit == nil {
		return nil
	}
	return i.onExit(ctx, s)
}

// Validate reports whether a is usable.
func Validate(a Agent) error {
	if a == nil || a.Instructions() == "" {
		return ErrNoInstructions
	}
	return nil
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, text string) error

// Say calls f.
func (f SpeakerFunc) Say(ctx context.Context, text string) error {
	return f(ctx, text)
}
