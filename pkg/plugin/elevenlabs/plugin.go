package elevenlabs

import (
	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
)

func newElevenLabsTTS(cfg map[string]any) (any, error) {
	p := plugin.Params(cfg)
	key, err := p.Secret("api_key", "ELEVENLABS_API_KEY")
	if err != nil {
		return nil, ai.NewFatalError(providerName, ai.ErrMissingAPIKey, err.Error())
	}
	voice, err := p.Secret("voice_id", "ELEVENLABS_VOICE_ID")
	if err != nil {
		voice = DefaultVoiceID
	}
	return New(Config{
		APIKey:  key,
		VoiceID: voice,
		Model:   p.String("model", DefaultModel),
		WSBase:  p.String("ws_base", DefaultWSBase),
	})
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        providerName,
		Factory:     newElevenLabsTTS,
		Description: "ElevenLabs stream-input synthesis, 24 kHz PCM",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "ElevenLabs API key (or set ELEVENLABS_API_KEY)",
			"voice_id": DefaultVoiceID,
			"model":    DefaultModel,
		},
	})
}
