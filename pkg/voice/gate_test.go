package voice

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"

	llmfake "github.com/chriscow/livekit-voice-agent/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/livekit-voice-agent/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/livekit-voice-agent/pkg/ai/tts/fake"
	vadfake "github.com/chriscow/livekit-voice-agent/pkg/ai/vad/fake"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func TestMicGate_Holds(t *testing.T) {
	is := is.New(t)
	var g micGate
	is.True(g.open())

	greeting := g.hold()
	reply := g.hold()
	is.True(!g.open())

	greeting()
	greeting() // released once only
	is.True(!g.open())

	reply()
	is.True(g.open())
}

func TestMicGate_DuringSpeech(t *testing.T) {
	tests := []struct {
		name         string
		noInterrupts bool
		openOnAir    bool
	}{
		{name: "interruptions allowed", openOnAir: true},
		{name: "interruptions disabled", noInterrupts: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			out := make(chan rtc.AudioFrame)
			f, err := New(Config{
				STT:                  sttfake.NewFakeSTT(transcript),
				LLM:                  llmfake.NewFakeLLM("Try a smart thermostat."),
				TTS:                  ttsfake.NewFakeTTS(),
				VAD:                  vadfake.NewFakeVAD(0),
				MicIn:                make(chan rtc.AudioFrame),
				SpeakerOut:           out,
				DisableInterruptions: tt.noInterrupts,
			})
			is.NoErr(err)

			done := make(chan error, 1)
			go func() { done <- f.speak(context.Background(), "Goodbye!", time.Time{}) }()

			select {
			case <-out: // first frame on air, the next send blocks
			case <-time.After(3 * time.Second):
				t.Fatal("no speech")
			}
			is.Equal(f.gate.open(), tt.openOnAir)

			for {
				select {
				case <-out:
					continue
				case err := <-done:
					is.NoErr(err)
				case <-time.After(3 * time.Second):
					t.Fatal("speech did not finish")
				}
				break
			}
			is.True(f.gate.open()) // released once playback ends
		})
	}
}
