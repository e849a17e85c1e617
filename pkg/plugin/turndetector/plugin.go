// Package turndetector registers the end-of-utterance models from pkg/turn as
// "turn" plugins. Importing it never downloads anything; model files are
// fetched by the registered Downloader or by turn.Prepare.
package turndetector

import (
	"context"

	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

func factory(model string) plugin.Factory {
	return func(cfg map[string]any) (any, error) {
		p := plugin.Params(cfg)
		return turn.NewDetector(turn.DetectorConfig{
			Model:     model,
			ModelPath: p.String("model_path", ""),
			RemoteURL: p.String("remote_url", ""),
		})
	}
}

func downloader(model string) plugin.Downloader {
	return plugin.DownloaderFunc(func(ctx context.Context, params map[string]any) error {
		return turn.Prepare(ctx, turn.PrepareOptions{
			ModelPath: plugin.Params(params).String("model_path", ""),
			Models:    []string{model},
		})
	})
}

func init() {
	for _, p := range []struct {
		model, description string
	}{
		{"english", "LiveKit end-of-utterance model, English"},
		{"multilingual", "LiveKit end-of-utterance model, multilingual"},
	} {
		plugin.RegisterWithMetadata(&plugin.Plugin{
			Kind:        plugin.KindTurn,
			Name:        p.model,
			Factory:     factory(p.model),
			Description: p.description,
			Version:     "1.0.0",
			Config: map[string]any{
				"unlikely_threshold": 0.8,
				"threshold":          0.8,
				"model_path":         "",
				"remote_url":         "",
			},
			Downloader: downloader(p.model),
		})
	}
}
