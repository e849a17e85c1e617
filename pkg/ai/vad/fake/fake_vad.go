// Package fake provides a deterministic energy-based voice activity detector.
package fake

import (
	"context"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	// DefaultThreshold is the RMS level above which a frame counts as speech.
	DefaultThreshold = 0.02
	// DefaultStartFrames is the number of consecutive loud frames that start speech.
	DefaultStartFrames = 3
	// DefaultHangoverFrames is the number of consecutive quiet frames that end speech.
	DefaultHangoverFrames = 20
)

// Detector flags speech when frame energy stays above Threshold.
type Detector struct {
	Threshold      float64
	StartFrames    int
	HangoverFrames int
	// DetectErr, when set, is returned by Detect.
	DetectErr error
}

// NewFakeVAD creates a detector with the given RMS threshold. A non-positive
// threshold selects DefaultThreshold.
func NewFakeVAD(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		Threshold:      threshold,
		StartFrames:    DefaultStartFrames,
		HangoverFrames: DefaultHangoverFrames,
	}
}

// Detect processes audio frames and emits speech transitions.
func (d *Detector) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.Event, error) {
	if d.DetectErr != nil {
		return nil, d.DetectErr
	}
	startFrames := max(d.StartFrames, 1)
	hangover := max(d.HangoverFrames, 1)

	output := make(chan vad.Event, 10)
	go func() {
		defer close(output)

		send := func(t vad.EventType, p float64) bool {
			select {
			case output <- vad.Event{Type: t, Timestamp: time.Now(), Probability: float32(p)}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		speaking := false
		loud, quiet := 0, 0
		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					if speaking {
						send(vad.EventSpeechEnd, 0)
					}
					return
				}

				level := frame.RMS()
				if level >= d.Threshold {
					loud++
					quiet = 0
				} else {
					quiet++
					loud = 0
				}

				switch {
				case !speaking && loud >= startFrames:
					speaking = true
					if !send(vad.EventSpeechStart, level) {
						return
					}
				case speaking && quiet >= hangover:
					speaking = false
					if !send(vad.EventSpeechEnd, level) {
						return
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return output, nil
}

// Capabilities returns the fake VAD capabilities.
func (d *Detector) Capabilities() vad.Capabilities {
	return vad.Capabilities{
		SampleRates:        []int{16000, 48000},
		MinSpeechDuration:  time.Duration(max(d.StartFrames, 1)) * rtc.FrameDuration,
		MinSilenceDuration: time.Duration(max(d.HangoverFrames, 1)) * rtc.FrameDuration,
		Threshold:          float32(d.Threshold),
	}
}
