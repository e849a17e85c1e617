package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/audio/wav"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error"},
	})
}

func TestLLMChat(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if r.URL.Path != "/chat/completions" || json.NewDecoder(r.Body).Decode(&req) != nil {
			writeAPIError(w, http.StatusBadRequest, "bad request")
			return
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			writeAPIError(w, http.StatusBadRequest, "expected system + user")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Try a heat pump."},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"total_tokens": 42},
		})
	}))
	defer server.Close()

	model := NewLLM(Config{APIKey: "test", BaseURL: server.URL})
	resp, err := model.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an energy consultant."},
		{Role: llm.RoleUser, Content: "How do I heat my home?"},
	}})
	is.NoErr(err)
	is.Equal(resp.Message.Content, "Try a heat pump.")
	is.Equal(resp.Message.Role, llm.RoleAssistant)
	is.Equal(resp.TokensUsed, 42)
	is.Equal(model.Capabilities().Model, DefaultChatModel)
}

func TestLLMErrorClassification(t *testing.T) {
	tests := []struct {
		status      int
		wantFatal   bool
		wantRetries bool
	}{
		{http.StatusUnauthorized, true, false},
		{http.StatusTooManyRequests, false, true},
		{http.StatusBadGateway, false, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			is := is.New(t)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, tt.status, "nope")
			}))
			defer server.Close()

			cfg := Config{APIKey: "test", BaseURL: server.URL}
			_, err := NewLLM(cfg).Chat(context.Background(), llm.ChatRequest{})
			is.True(err != nil)
			is.Equal(ai.IsFatal(err), tt.wantFatal)
			is.Equal(ai.IsRecoverable(err), tt.wantRetries)
		})
	}
}

func TestTTSFramesPCM(t *testing.T) {
	is := is.New(t)

	// 25 ms of audio at 24 kHz: two whole frames and a padded remainder.
	pcm := make([]byte, 24000/1000*25*2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if r.URL.Path != "/audio/speech" || req["response_format"] != "pcm" || req["voice"] != "nova" {
			writeAPIError(w, http.StatusBadRequest, "unexpected request")
			return
		}
		w.Write(pcm)
	}))
	defer server.Close()

	synth := NewTTS(Config{APIKey: "test", BaseURL: server.URL, Voice: "nova"})
	res, err := synth.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "Goodbye!"})
	is.NoErr(err)

	var frames []rtc.AudioFrame
	for f := range res.Frames() {
		frames = append(frames, f)
	}
	is.NoErr(res.Err())
	is.Equal(len(frames), 3)
	is.Equal(frames[0].SampleRate, 24000)
}

func TestTTSAuthFailure(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "bad key")
	}))
	defer server.Close()

	_, err := NewTTS(Config{APIKey: "test", BaseURL: server.URL}).Synthesize(context.Background(), tts.SynthesizeRequest{Text: "hi"})
	is.True(ai.IsFatal(err))
}

func tone(amplitude int16, n int) []rtc.AudioFrame {
	out := make([]rtc.AudioFrame, n)
	for i := range out {
		samples := make([]int16, 160)
		for j := range samples {
			samples[j] = amplitude
			if j%2 == 1 {
				samples[j] = -amplitude
			}
		}
		out[i] = rtc.FromSamples(samples, 16000, 1)
	}
	return out
}

func TestWhisperSegmentsOnSilence(t *testing.T) {
	is := is.New(t)

	uploads := make(chan int, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "no file")
			return
		}
		defer file.Close()
		_, frames, err := wav.Decode(file)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		uploads <- len(frames)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"text": "what is a heat pump"})
	}))
	defer server.Close()

	rec, err := NewWhisperSTT(Config{APIKey: "test", BaseURL: server.URL}, 0)
	is.NoErr(err)
	stream, err := rec.NewStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Language: "en"})
	is.NoErr(err)

	for _, f := range append(tone(5000, 50), tone(0, 35)...) {
		is.NoErr(stream.Push(f))
	}
	is.NoErr(stream.CloseSend())

	var finals []stt.SpeechEvent
	for ev := range stream.Events() {
		is.Equal(ev.Type, stt.SpeechEventFinal)
		finals = append(finals, ev)
	}
	is.Equal(len(finals), 1)
	is.Equal(finals[0].Text, "what is a heat pump")
	is.Equal(finals[0].Language, "en")
	is.Equal(<-uploads, 80) // 50 loud + 30 quiet frames closes the segment

	is.True(errors.Is(stream.Push(tone(0, 1)[0]), ErrStreamClosed))
}

func TestFactoryRequiresKey(t *testing.T) {
	is := is.New(t)
	t.Setenv("OPENAI_API_KEY", "")

	_, err := newOpenAILLM(map[string]any{})
	is.True(errors.Is(err, ai.ErrMissingAPIKey))

	instance, err := newOpenAILLM(map[string]any{"api_key": "k", "model": "gpt-4o-mini"})
	is.NoErr(err)
	is.Equal(instance.(*LLM).Capabilities().Model, "gpt-4o-mini")
}
