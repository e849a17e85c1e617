package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/deepgram"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/elevenlabs"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/fake"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/openai"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/silero"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/turndetector"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

func TestPluginIntegration_Registered(t *testing.T) {
	is := is.New(t)

	want := map[string][]string{
		plugin.KindLLM:  {"fake", "openai"},
		plugin.KindSTT:  {"deepgram", "fake", "openai"},
		plugin.KindTTS:  {"elevenlabs", "fake", "openai"},
		plugin.KindTurn: {"english", "fake", "multilingual"},
		plugin.KindVAD:  {"fake", "silero"},
	}
	is.Equal(plugin.ListKinds(), []string{"llm", "stt", "tts", "turn", "vad"})

	for kind, names := range want {
		var got []string
		for _, p := range plugin.List(kind) {
			got = append(got, p.Name)
			is.True(p.Description != "") // every backend documents itself
		}
		is.Equal(got, names)
	}
}

func TestPluginIntegration_Downloaders(t *testing.T) {
	is := is.New(t)

	var withDownloader []string
	for _, p := range plugin.List("") {
		if p.Downloader != nil {
			withDownloader = append(withDownloader, p.Kind+"/"+p.Name)
		}
	}
	is.Equal(withDownloader, []string{"turn/english", "turn/multilingual", "vad/silero"})
}

func TestPluginIntegration_FakePipeline(t *testing.T) {
	is := is.New(t)
	r := plugin.Default()
	ctx := context.Background()

	instance, err := r.Build(plugin.KindSTT, "fake", map[string]any{"transcript": "What is a heat pump?", "final_after": 5})
	is.NoErr(err)
	rec, ok := instance.(stt.Recognizer)
	is.True(ok)
	stream, err := rec.NewStream(ctx, stt.StreamConfig{SampleRate: 16000, NumChannels: 1, Language: "en"})
	is.NoErr(err)
	for i := 0; i < 5; i++ {
		is.NoErr(stream.Push(rtc.FromSamples(make([]int16, 160), 16000, 1)))
	}
	is.NoErr(stream.CloseSend())
	var final string
	for ev := range stream.Events() {
		if ev.Type == stt.SpeechEventFinal {
			final = ev.Text
		}
	}
	is.Equal(final, "What is a heat pump?")

	instance, err = r.Build(plugin.KindLLM, "fake", map[string]any{"responses": []string{"It moves heat instead of making it."}})
	is.NoErr(err)
	model, ok := instance.(llm.Model)
	is.True(ok)
	resp, err := model.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: final}}})
	is.NoErr(err)
	is.Equal(resp.Message.Content, "It moves heat instead of making it.")

	instance, err = r.Build(plugin.KindTTS, "fake", nil)
	is.NoErr(err)
	synth, ok := instance.(tts.Synthesizer)
	is.True(ok)
	res, err := synth.Synthesize(ctx, tts.SynthesizeRequest{Text: resp.Message.Content})
	is.NoErr(err)
	frames := 0
	for range res.Frames() {
		frames++
	}
	is.True(frames > 0)

	instance, err = r.Build(plugin.KindVAD, "fake", nil)
	is.NoErr(err)
	_, ok = instance.(vad.Detector)
	is.True(ok)

	instance, err = r.Build(plugin.KindTurn, "fake", map[string]any{"probability": 0.9})
	is.NoErr(err)
	_, ok = instance.(turn.Detector)
	is.True(ok)
}

func TestPluginIntegration_SileroWithoutModel(t *testing.T) {
	is := is.New(t)

	instance, err := plugin.Default().Build(plugin.KindVAD, "silero", map[string]any{
		"threshold":  0.35,
		"model_path": t.TempDir() + "/missing.onnx",
	})
	is.NoErr(err)
	_, ok := instance.(vad.Detector)
	is.True(ok)
}

func TestPluginIntegration_MissingCredentials(t *testing.T) {
	for _, env := range []string{"OPENAI_API_KEY", "DEEPGRAM_API_KEY", "ELEVENLABS_API_KEY"} {
		t.Setenv(env, "")
	}

	tests := []struct {
		kind, name string
	}{
		{plugin.KindLLM, "openai"},
		{plugin.KindSTT, "deepgram"},
		{plugin.KindTTS, "elevenlabs"},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.name, func(t *testing.T) {
			is := is.New(t)
			_, err := plugin.Default().Build(tt.kind, tt.name, nil)
			is.True(errors.Is(err, ai.ErrMissingAPIKey))
			is.True(ai.IsFatal(err))
		})
	}
}

func TestPluginIntegration_UnknownBackend(t *testing.T) {
	is := is.New(t)
	_, err := plugin.Default().Build(plugin.KindSTT, "whisper-local", nil)
	is.True(errors.Is(err, plugin.ErrNotFound))
}
