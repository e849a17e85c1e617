// Package fake provides a tone-generating synthesizer for tests and offline runs.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	// SampleRate of generated audio.
	SampleRate = 24000
	// FramesPerChar controls how long the generated audio is.
	FramesPerChar = 1
)

// Synthesizer renders a 440 Hz tone whose length tracks the text length.
type Synthesizer struct {
	// Pace sleeps one frame duration per frame when true.
	Pace bool
	// Err, when set, is returned by Synthesize.
	Err error

	mu    sync.Mutex
	texts []string
}

// NewFakeTTS creates a new fake synthesizer.
func NewFakeTTS() *Synthesizer {
	return &Synthesizer{}
}

// Synthesize generates tone frames for the given text.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*tts.Result, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	s.texts = append(s.texts, req.Text)
	s.mu.Unlock()

	output := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(output)

		frameCount := len(req.Text) * FramesPerChar
		samplesPerChannel := SampleRate / 100
		for i := 0; i < frameCount; i++ {
			samples := make([]int16, samplesPerChannel)
			for j := range samples {
				n := i*samplesPerChannel + j
				samples[j] = int16(0.3 * 32767 * math.Sin(2*math.Pi*440*float64(n)/SampleRate))
			}
			frame := rtc.FromSamples(samples, SampleRate, 1)
			frame.Timestamp = time.Duration(i) * rtc.FrameDuration

			select {
			case output <- frame:
			case <-ctx.Done():
				return
			}
			if s.Pace {
				time.Sleep(rtc.FrameDuration)
			}
		}
	}()

	return tts.NewResult(output, nil), nil
}

// Texts returns every text synthesized so far.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// Capabilities returns the fake capabilities.
func (s *Synthesizer) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		Streaming:  true,
		SampleRate: SampleRate,
		Voices:     []string{"fake"},
	}
}
