package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/fake"
)

func fakeConfig() Config {
	return Config{
		STT:  Selection{Provider: "fake", Params: map[string]any{"language": "en"}},
		LLM:  Selection{Provider: "fake"},
		TTS:  Selection{Provider: "fake"},
		VAD:  Selection{Provider: "fake", Params: map[string]any{"rms_threshold": 0.02}},
		Turn: Selection{Provider: "fake", Params: map[string]any{"unlikely_threshold": 0.8}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults accepted", func(c *Config) {}, false},
		{"vad threshold 1.5 rejected", func(c *Config) { c.VAD.Params["rms_threshold"] = 1.5 }, true},
		{"turn threshold 1.5 rejected", func(c *Config) { c.Turn.Params["unlikely_threshold"] = 1.5 }, true},
		{"negative threshold rejected", func(c *Config) { c.VAD.Params["rms_threshold"] = -0.1 }, true},
		{"integer threshold accepted", func(c *Config) { c.VAD.Params["rms_threshold"] = 1 }, false},
		{"NaN threshold rejected", func(c *Config) { c.VAD.Params["rms_threshold"] = math.NaN() }, true},
		{"non-numeric threshold rejected", func(c *Config) { c.VAD.Params["rms_threshold"] = "high" }, true},
		{"missing stt rejected", func(c *Config) { c.STT.Provider = "" }, true},
		{"turn is optional", func(c *Config) { c.Turn = Selection{} }, false},
		{"unrelated params ignored", func(c *Config) { c.LLM.Params = map[string]any{"temperature": 1.5} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			cfg := fakeConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			is.Equal(err != nil, tt.wantErr)
		})
	}
}

func TestValidateMissingProvider(t *testing.T) {
	is := is.New(t)
	cfg := fakeConfig()
	cfg.TTS.Provider = ""
	is.True(errors.Is(cfg.Validate(), ErrNoProvider))
}

func TestBuild(t *testing.T) {
	is := is.New(t)

	p, err := fakeConfig().Build(plugin.Default())
	is.NoErr(err)
	is.True(p.STT != nil)
	is.True(p.LLM != nil)
	is.True(p.TTS != nil)
	is.True(p.VAD != nil)
	is.True(p.Turn != nil)
	is.Equal(p.Language, "en")
	is.Equal(p.TurnThreshold, 0.8)
	is.NoErr(p.Close())
}

func TestBuildWithoutTurn(t *testing.T) {
	is := is.New(t)

	cfg := fakeConfig()
	cfg.Turn = Selection{}
	p, err := cfg.Build(plugin.Default())
	is.NoErr(err)
	is.True(p.Turn == nil)
	is.Equal(p.TurnThreshold, 0.0)
}

func TestBuildRejectsBeforeCreating(t *testing.T) {
	is := is.New(t)

	built := 0
	r := plugin.NewRegistry()
	r.Register(plugin.KindSTT, "counting", func(map[string]any) (any, error) {
		built++
		return nil, nil
	})

	cfg := fakeConfig()
	cfg.STT.Provider = "counting"
	cfg.VAD.Params["rms_threshold"] = 1.5
	_, err := cfg.Build(r)
	is.True(err != nil)
	is.Equal(built, 0)
}

func TestBuildWrongType(t *testing.T) {
	is := is.New(t)

	r := plugin.NewRegistry()
	r.Register(plugin.KindSTT, "broken", func(map[string]any) (any, error) {
		return "not a recognizer", nil
	})
	cfg := fakeConfig()
	cfg.STT.Provider = "broken"
	_, err := cfg.Build(r)
	is.True(err != nil)
}

func TestBuildUnknownProvider(t *testing.T) {
	is := is.New(t)

	cfg := fakeConfig()
	cfg.LLM.Provider = "nope"
	_, err := cfg.Build(plugin.Default())
	is.True(errors.Is(err, plugin.ErrNotFound))
}

func TestBuildRejectsUndeclaredThreshold(t *testing.T) {
	is := is.New(t)

	cfg := fakeConfig()
	cfg.VAD.Params = map[string]any{"activation_threshold": 0.35} // the fake VAD reads rms_threshold
	is.NoErr(cfg.Validate())
	_, err := cfg.Build(plugin.Default())
	is.True(errors.Is(err, ErrUnknownParam))
}

func TestDownloadSelectedOnly(t *testing.T) {
	is := is.New(t)

	got := map[string]map[string]any{}
	record := func(name string) plugin.Downloader {
		return plugin.DownloaderFunc(func(_ context.Context, params map[string]any) error {
			got[name] = params
			return nil
		})
	}
	r := plugin.NewRegistry()
	r.RegisterWithMetadata(&plugin.Plugin{Kind: plugin.KindVAD, Name: "silero", Factory: nopFactory, Downloader: record("silero")})
	r.RegisterWithMetadata(&plugin.Plugin{Kind: plugin.KindTurn, Name: "english", Factory: nopFactory, Downloader: record("english")})
	r.RegisterWithMetadata(&plugin.Plugin{Kind: plugin.KindTurn, Name: "multilingual", Factory: nopFactory, Downloader: record("multilingual")})

	cfg := fakeConfig()
	cfg.VAD = Selection{Provider: "silero", Params: map[string]any{"model_path": "/models"}}
	cfg.Turn = Selection{Provider: "english", Params: map[string]any{"model_path": "/models"}}

	is.NoErr(cfg.Download(context.Background(), r))
	is.Equal(len(got), 2)
	is.Equal(got["silero"]["model_path"], "/models")
	is.Equal(got["english"]["model_path"], "/models")
	_, ok := got["multilingual"]
	is.True(!ok) // not selected
}

func TestDownloadCombinesErrors(t *testing.T) {
	is := is.New(t)

	offline := errors.New("offline")
	fail := plugin.DownloaderFunc(func(context.Context, map[string]any) error { return offline })
	r := plugin.NewRegistry()
	r.RegisterWithMetadata(&plugin.Plugin{Kind: plugin.KindVAD, Name: "silero", Factory: nopFactory, Downloader: fail})

	cfg := fakeConfig()
	cfg.VAD = Selection{Provider: "silero"}
	err := cfg.Download(context.Background(), r)
	is.True(errors.Is(err, offline))
}

func nopFactory(map[string]any) (any, error) { return nil, nil }
