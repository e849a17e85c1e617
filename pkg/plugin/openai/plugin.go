// Package openai provides chat completion, speech synthesis and Whisper
// transcription backed by the OpenAI API.
package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
)

const providerName = "openai"

// Config holds the settings shared by the OpenAI backends.
type Config struct {
	APIKey   string
	BaseURL  string // defaults to the public API
	Model    string
	Language string // stt
	Voice    string // tts
}

func configFromParams(cfg map[string]any, defaultModel string) (Config, error) {
	p := plugin.Params(cfg)
	key, err := p.Secret("api_key", "OPENAI_API_KEY")
	if err != nil {
		return Config{}, ai.NewFatalError(providerName, ai.ErrMissingAPIKey, err.Error())
	}
	return Config{
		APIKey:   key,
		BaseURL:  p.String("base_url", ""),
		Model:    p.String("model", defaultModel),
		Language: p.String("language", ""),
		Voice:    p.String("voice", ""),
	}, nil
}

func newClient(cfg Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// classify maps API failures onto recoverable and fatal provider errors.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ai.ClassifyHTTPStatus(providerName, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ai.ClassifyHTTPStatus(providerName, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return ai.NewRecoverableError(providerName, err, "request failed")
}

func newOpenAILLM(cfg map[string]any) (any, error) {
	c, err := configFromParams(cfg, DefaultChatModel)
	if err != nil {
		return nil, err
	}
	return NewLLM(c), nil
}

func newOpenAITTS(cfg map[string]any) (any, error) {
	c, err := configFromParams(cfg, DefaultSpeechModel)
	if err != nil {
		return nil, err
	}
	return NewTTS(c), nil
}

func newOpenAISTT(cfg map[string]any) (any, error) {
	c, err := configFromParams(cfg, openai.Whisper1)
	if err != nil {
		return nil, err
	}
	return NewWhisperSTT(c, plugin.Params(cfg).Float("silence_rms", defaultSilenceRMS))
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        providerName,
		Factory:     newOpenAILLM,
		Description: "OpenAI chat completions",
		Version:     "1.1.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY)",
			"model":    DefaultChatModel,
			"base_url": "",
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        providerName,
		Factory:     newOpenAITTS,
		Description: "OpenAI text-to-speech, raw 24 kHz PCM",
		Version:     "1.1.0",
		Config: map[string]any{
			"api_key": "OpenAI API key (or set OPENAI_API_KEY)",
			"model":   DefaultSpeechModel,
			"voice":   DefaultVoice,
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        providerName,
		Factory:     newOpenAISTT,
		Description: "OpenAI Whisper on energy-segmented utterances",
		Version:     "1.1.0",
		Config: map[string]any{
			"api_key":     "OpenAI API key (or set OPENAI_API_KEY)",
			"model":       openai.Whisper1,
			"language":    "",
			"silence_rms": defaultSilenceRMS,
		},
	})
}
