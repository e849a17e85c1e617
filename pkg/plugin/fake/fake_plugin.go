// Package fake registers offline providers for every plugin kind so the
// agent can run without cloud credentials or model files.
package fake

import (
	llmfake "github.com/chriscow/livekit-voice-agent/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/livekit-voice-agent/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/livekit-voice-agent/pkg/ai/tts/fake"
	vadfake "github.com/chriscow/livekit-voice-agent/pkg/ai/vad/fake"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	turnfake "github.com/chriscow/livekit-voice-agent/pkg/turn/fake"
)

func newFakeSTT(cfg map[string]any) (any, error) {
	p := plugin.Params(cfg)
	rec := sttfake.NewFakeSTT(p.String("transcript", sttfake.DefaultTranscript))
	rec.FinalAfter = p.Int("final_after", 0)
	return rec, nil
}

func newFakeTTS(cfg map[string]any) (any, error) {
	synth := ttsfake.NewFakeTTS()
	synth.Pace = plugin.Params(cfg).Bool("pace", false)
	return synth, nil
}

func newFakeLLM(cfg map[string]any) (any, error) {
	return llmfake.NewFakeLLM(plugin.Params(cfg).Strings("responses", nil)...), nil
}

func newFakeVAD(cfg map[string]any) (any, error) {
	p := plugin.Params(cfg)
	d := vadfake.NewFakeVAD(p.Float("rms_threshold", vadfake.DefaultThreshold))
	d.HangoverFrames = p.Int("hangover_frames", vadfake.DefaultHangoverFrames)
	return d, nil
}

func newFakeTurn(cfg map[string]any) (any, error) {
	p := plugin.Params(cfg)
	return turnfake.NewFakeTurnDetectorWithValues(p.Float("probability", 0.95), p.Float("unlikely_threshold", 0.85)), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "fake",
		Factory:     newFakeSTT,
		Description: "Scripted transcripts for offline runs",
		Version:     "1.0.0",
		Config: map[string]any{
			"transcript":  sttfake.DefaultTranscript,
			"final_after": 20,
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "fake",
		Factory:     newFakeTTS,
		Description: "440 Hz tone sized to the text",
		Version:     "1.0.0",
		Config:      map[string]any{"pace": false},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "fake",
		Factory:     newFakeLLM,
		Description: "Canned responses in rotation",
		Version:     "1.0.0",
		Config:      map[string]any{"responses": []string{}},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindVAD,
		Name:        "fake",
		Factory:     newFakeVAD,
		Description: "Energy threshold detector",
		Version:     "1.0.0",
		Config: map[string]any{
			"rms_threshold":   vadfake.DefaultThreshold,
			"hangover_frames": vadfake.DefaultHangoverFrames,
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTurn,
		Name:        "fake",
		Factory:     newFakeTurn,
		Description: "Fixed end-of-turn probability",
		Version:     "1.0.0",
		Config: map[string]any{
			"probability":        0.95,
			"unlikely_threshold": 0.85,
		},
	})
}
