// Package stt defines the speech recognition capability: a streaming session
// that turns pushed audio frames into interim and final transcripts.
package stt

import (
	"context"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// StreamConfig contains configuration for recognition streams.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Language    string
}

// SpeechEvent is a recognition result or a stream failure.
type SpeechEvent struct {
	Type       SpeechEventType
	Text       string
	IsFinal    bool
	Confidence float64
	Language   string
	Timestamp  int64 // unix millis
	Error      error
}

// SpeechEventType represents the type of speech recognition event.
type SpeechEventType int

const (
	// SpeechEventInterim is a partial transcript that may still change.
	SpeechEventInterim SpeechEventType = iota
	// SpeechEventFinal is a transcript segment that will not change.
	SpeechEventFinal
	// SpeechEventEndOfSpeech means the recognizer detected the speaker stopped.
	SpeechEventEndOfSpeech
	// SpeechEventError carries a stream failure in Error.
	SpeechEventError
)

func (t SpeechEventType) String() string {
	switch t {
	case SpeechEventInterim:
		return "interim"
	case SpeechEventFinal:
		return "final"
	case SpeechEventEndOfSpeech:
		return "end_of_speech"
	case SpeechEventError:
		return "error"
	default:
		return "unknown"
	}
}

// Capabilities describes a recognizer.
type Capabilities struct {
	Streaming      bool
	InterimResults bool
	SampleRates    []int
}

// Recognizer is implemented by every speech-to-text backend.
type Recognizer interface {
	// NewStream opens a recognition session.
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)

	Capabilities() Capabilities
}

// Stream is an open recognition session.
type Stream interface {
	// Push sends an audio frame for recognition.
	Push(frame rtc.AudioFrame) error

	// Events delivers results. It is closed once the stream has finished
	// flushing after CloseSend, or when the stream fails.
	Events() <-chan SpeechEvent

	// CloseSend signals end of audio; pending finals are still delivered.
	CloseSend() error
}
