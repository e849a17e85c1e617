// Package fake provides a scripted speech recognizer for tests and offline runs.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	// InterimResultFrameInterval controls how often interim results are sent.
	InterimResultFrameInterval = 10
	// DefaultFinalAfter is the number of pushed frames before the final result.
	DefaultFinalAfter = 20
	// DefaultTranscript is used when no transcript is provided.
	DefaultTranscript = "How can I lower my energy bill?"
)

// ErrStreamClosed is returned by Push after CloseSend.
var ErrStreamClosed = errors.New("stream is closed")

// Recognizer returns the same transcript for every utterance.
type Recognizer struct {
	Transcript string
	// FinalAfter is the number of frames after which the final transcript is
	// emitted. Zero means DefaultFinalAfter.
	FinalAfter int
	// StreamErr, when set, is returned by NewStream.
	StreamErr error

	mu      sync.Mutex
	streams int
}

// NewFakeSTT creates a recognizer with a fixed transcript.
func NewFakeSTT(transcript string) *Recognizer {
	if transcript == "" {
		transcript = DefaultTranscript
	}
	return &Recognizer{Transcript: transcript}
}

// NewStream opens a fake stream.
func (r *Recognizer) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	if r.StreamErr != nil {
		return nil, r.StreamErr
	}
	r.mu.Lock()
	r.streams++
	r.mu.Unlock()

	finalAfter := r.FinalAfter
	if finalAfter <= 0 {
		finalAfter = DefaultFinalAfter
	}
	return &Stream{
		ctx:        ctx,
		transcript: r.Transcript,
		finalAfter: finalAfter,
		language:   cfg.Language,
		events:     make(chan stt.SpeechEvent, 16),
	}, nil
}

// Streams returns how many streams were opened.
func (r *Recognizer) Streams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams
}

// Capabilities returns the fake capabilities.
func (r *Recognizer) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      true,
		InterimResults: true,
		SampleRates:    []int{16000, 48000},
	}
}

// Stream is a fake recognition stream.
type Stream struct {
	ctx        context.Context
	transcript string
	finalAfter int
	language   string
	events     chan stt.SpeechEvent

	mu         sync.Mutex
	frameCount int
	finalSent  bool
	closed     bool
}

// Push counts frames and emits interim and final results on schedule.
func (s *Stream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	s.frameCount++

	switch {
	case !s.finalSent && s.frameCount >= s.finalAfter:
		s.finalSent = true
		s.emit(stt.SpeechEventFinal, s.transcript)
	case !s.finalSent && s.frameCount%InterimResultFrameInterval == 0:
		n := len(s.transcript) * s.frameCount / s.finalAfter
		s.emit(stt.SpeechEventInterim, s.transcript[:n])
	}
	return nil
}

// Events returns the events channel.
func (s *Stream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend flushes a pending final result and closes the events channel.
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.finalSent && s.frameCount > 0 {
		s.finalSent = true
		s.emit(stt.SpeechEventFinal, s.transcript)
	}
	close(s.events)
	return nil
}

func (s *Stream) emit(typ stt.SpeechEventType, text string) {
	ev := stt.SpeechEvent{
		Type:      typ,
		Text:      text,
		IsFinal:   typ == stt.SpeechEventFinal,
		Language:  s.language,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	default:
		// consumer is not keeping up; fakes never block the producer
	}
}
