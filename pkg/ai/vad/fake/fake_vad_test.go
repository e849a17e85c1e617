package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func tone(amplitude int16) rtc.AudioFrame {
	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return rtc.FromSamples(samples, 16000, 1)
}

func run(t *testing.T, d *Detector, input []rtc.AudioFrame) []vad.Event {
	t.Helper()
	frames := make(chan rtc.AudioFrame, len(input))
	for _, f := range input {
		frames <- f
	}
	close(frames)

	events, err := d.Detect(context.Background(), frames)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	var out []vad.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestDetectTransitions(t *testing.T) {
	loud := tone(8000)
	quiet := tone(0)

	repeat := func(f rtc.AudioFrame, n int) []rtc.AudioFrame {
		out := make([]rtc.AudioFrame, n)
		for i := range out {
			out[i] = f
		}
		return out
	}

	tests := []struct {
		name  string
		input []rtc.AudioFrame
		want  []vad.EventType
	}{
		{"silence", repeat(quiet, 50), nil},
		{"short blip", append(repeat(loud, 2), repeat(quiet, 30)...), nil},
		{
			"utterance",
			append(repeat(loud, 10), repeat(quiet, DefaultHangoverFrames)...),
			[]vad.EventType{vad.EventSpeechStart, vad.EventSpeechEnd},
		},
		{
			"cut off mid speech",
			repeat(loud, 10),
			[]vad.EventType{vad.EventSpeechStart, vad.EventSpeechEnd},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			events := run(t, NewFakeVAD(0), tt.input)
			is.Equal(len(events), len(tt.want))
			for i, ev := range events {
				is.Equal(ev.Type, tt.want[i])
			}
		})
	}
}

func TestDetectError(t *testing.T) {
	is := is.New(t)
	d := NewFakeVAD(0)
	d.DetectErr = errors.New("model missing")
	_, err := d.Detect(context.Background(), make(chan rtc.AudioFrame))
	is.Equal(err, d.DetectErr)
}

func TestCapabilities(t *testing.T) {
	is := is.New(t)
	caps := NewFakeVAD(0.1).Capabilities()
	is.Equal(caps.Threshold, float32(0.1))
	is.True(caps.MinSilenceDuration > caps.MinSpeechDuration)
}
