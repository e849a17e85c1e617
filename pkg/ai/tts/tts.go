// Package tts defines the speech synthesis capability.
package tts

import (
	"context"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
}

// Capabilities describes a synthesizer.
type Capabilities struct {
	Streaming  bool
	SampleRate int
	Voices     []string
}

// Synthesizer is implemented by every text-to-speech backend.
type Synthesizer interface {
	// Synthesize converts text to audio. The returned channel is closed when
	// synthesis completes, fails, or ctx is cancelled. A failure after the
	// channel was returned is reported by Err on the result.
	Synthesize(ctx context.Context, req SynthesizeRequest) (*Result, error)

	Capabilities() Capabilities
}

// Result is an in-progress synthesis.
type Result struct {
	frames <-chan rtc.AudioFrame
	errc   <-chan error
}

// NewResult wraps a frame channel and an optional error channel. errc must be
// buffered; the producer sends at most one error on it before closing frames.
func NewResult(frames <-chan rtc.AudioFrame, errc <-chan error) *Result {
	return &Result{frames: frames, errc: errc}
}

// Frames returns the audio frame channel.
func (r *Result) Frames() <-chan rtc.AudioFrame {
	return r.frames
}

// Err returns the synthesis failure, if any. Call it after Frames is drained.
func (r *Result) Err() error {
	if r.errc == nil {
		return nil
	}
	select {
	case err := <-r.errc:
		return err
	default:
		return nil
	}
}
