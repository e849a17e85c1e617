package deepgram

import (
	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
)

func newDeepgramSTT(cfg map[string]any) (any, error) {
	p := plugin.Params(cfg)
	key, err := p.Secret("api_key", "DEEPGRAM_API_KEY")
	if err != nil {
		return nil, ai.NewFatalError(providerName, ai.ErrMissingAPIKey, err.Error())
	}
	return New(Config{
		APIKey:         key,
		URL:            p.String("url", DefaultURL),
		Model:          p.String("model", DefaultModel),
		Language:       p.String("language", DefaultLanguage),
		InterimResults: p.Bool("interim_results", true),
		Endpointing:    p.Duration("endpointing", 0),
	})
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        providerName,
		Factory:     newDeepgramSTT,
		Description: "Deepgram live transcription over websocket",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":         "Deepgram API key (or set DEEPGRAM_API_KEY)",
			"model":           DefaultModel,
			"language":        DefaultLanguage,
			"interim_results": true,
			"endpointing":     "",
		},
	})
}
