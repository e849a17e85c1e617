// Package vad defines the voice activity detection capability.
package vad

import (
	"context"
	"fmt"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// EventType represents the type of VAD event.
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is a voice activity transition.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	Probability float32
	Error       error
}

// Capabilities describes a detector.
type Capabilities struct {
	SampleRates        []int
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration
	Threshold          float32
}

// Detector is implemented by every voice activity backend.
type Detector interface {
	// Detect consumes frames and emits speech transitions. The returned
	// channel is closed when frames is closed or ctx is cancelled.
	Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan Event, error)

	Capabilities() Capabilities
}

// ValidateThreshold checks that a detection threshold is a probability.
// NaN is rejected.
func ValidateThreshold(threshold float64) error {
	if !(threshold >= 0 && threshold <= 1) {
		return fmt.Errorf("threshold must be between 0 and 1, got %g", threshold)
	}
	return nil
}
