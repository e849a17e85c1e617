// Package pipeline holds the backend selection for a voice session and builds
// the selected providers from a plugin registry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

var (
	// ErrNoProvider is returned when a required stage has no backend selected.
	ErrNoProvider = errors.New("no provider selected")
	// ErrUnknownParam is returned for a threshold the selected backend does
	// not read.
	ErrUnknownParam = errors.New("parameter not supported by provider")
)

// DefaultLanguage is used when the STT selection names no language.
const DefaultLanguage = "en"

// Selection names one backend and its parameters.
type Selection struct {
	Provider string         `yaml:"provider"`
	Params   map[string]any `yaml:"params"`
}

// Config selects the backend for every pipeline stage. Turn is optional;
// without it the user's turn ends on the first VAD speech end.
type Config struct {
	STT  Selection `yaml:"stt"`
	LLM  Selection `yaml:"llm"`
	TTS  Selection `yaml:"tts"`
	VAD  Selection `yaml:"vad"`
	Turn Selection `yaml:"turn"`
}

type stage struct {
	kind     string
	sel      Selection
	required bool
}

func (c Config) stages() []stage {
	return []stage{
		{plugin.KindSTT, c.STT, true},
		{plugin.KindLLM, c.LLM, true},
		{plugin.KindTTS, c.TTS, true},
		{plugin.KindVAD, c.VAD, true},
		{plugin.KindTurn, c.Turn, false},
	}
}

// Validate checks that every required stage is selected and that every
// threshold parameter is a probability.
func (c Config) Validate() error {
	for _, s := range c.stages() {
		if s.sel.Provider == "" {
			if s.required {
				return fmt.Errorf("%s: %w", s.kind, ErrNoProvider)
			}
			continue
		}
		for key, value := range s.sel.Params {
			if !strings.HasSuffix(key, "threshold") {
				continue
			}
			f, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("%s: %s must be a number, got %T", s.kind, key, value)
			}
			if err := vad.ValidateThreshold(f); err != nil {
				return fmt.Errorf("%s: %s: %w", s.kind, key, err)
			}
		}
	}
	return nil
}

// Language returns the recognition language selected for STT.
func (c Config) Language() string {
	return plugin.Params(c.STT.Params).String("language", DefaultLanguage)
}

// TurnThreshold returns the configured end-of-turn threshold, or zero to use
// the detector's per-language default.
func (c Config) TurnThreshold() float64 {
	p := plugin.Params(c.Turn.Params)
	return p.Float("unlikely_threshold", p.Float("threshold", 0))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Pipeline is the set of built providers.
type Pipeline struct {
	STT  stt.Recognizer
	LLM  llm.Model
	TTS  tts.Synthesizer
	VAD  vad.Detector
	Turn turn.Detector // nil when no turn detector is selected

	Language      string
	TurnThreshold float64
}

// Build validates c and creates every selected provider from r.
func (c Config) Build(r *plugin.Registry) (*Pipeline, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if err := c.checkThresholds(r); err != nil {
		return nil, err
	}

	p := &Pipeline{Language: c.Language(), TurnThreshold: c.TurnThreshold()}
	var err error
	if p.STT, err = build[stt.Recognizer](r, plugin.KindSTT, c.STT); err != nil {
		return nil, err
	}
	if p.LLM, err = build[llm.Model](r, plugin.KindLLM, c.LLM); err != nil {
		return nil, multierr.Append(err, p.Close())
	}
	if p.TTS, err = build[tts.Synthesizer](r, plugin.KindTTS, c.TTS); err != nil {
		return nil, multierr.Append(err, p.Close())
	}
	if p.VAD, err = build[vad.Detector](r, plugin.KindVAD, c.VAD); err != nil {
		return nil, multierr.Append(err, p.Close())
	}
	if c.Turn.Provider != "" {
		if p.Turn, err = build[turn.Detector](r, plugin.KindTurn, c.Turn); err != nil {
			return nil, multierr.Append(err, p.Close())
		}
	}
	return p, nil
}

// checkThresholds rejects threshold parameters that the selected backend
// does not declare. Backends registered without a Config are not checked.
func (c Config) checkThresholds(r *plugin.Registry) error {
	for _, s := range c.stages() {
		if s.sel.Provider == "" {
			continue
		}
		p, ok := r.Lookup(s.kind, s.sel.Provider)
		if !ok || p.Config == nil {
			continue
		}
		for key := range s.sel.Params {
			if !strings.HasSuffix(key, "threshold") {
				continue
			}
			if _, declared := p.Config[key]; !declared {
				return fmt.Errorf("%s/%s: %s: %w", s.kind, s.sel.Provider, key, ErrUnknownParam)
			}
		}
	}
	return nil
}

// Download fetches the model files of the selected backends only, with the
// same params Build will use, and returns the combined failures.
func (c Config) Download(ctx context.Context, r *plugin.Registry) error {
	var err error
	for _, s := range c.stages() {
		if s.sel.Provider == "" {
			continue
		}
		p, ok := r.Lookup(s.kind, s.sel.Provider)
		if !ok || p.Downloader == nil {
			continue
		}
		if derr := p.Downloader.Download(ctx, s.sel.Params); derr != nil {
			err = multierr.Append(err, fmt.Errorf("%s/%s: %w", s.kind, s.sel.Provider, derr))
		}
	}
	return err
}

func build[T any](r *plugin.Registry, kind string, sel Selection) (T, error) {
	var zero T
	instance, err := r.Build(kind, sel.Provider, sel.Params)
	if err != nil {
		return zero, err
	}
	v, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%s/%s: plugin returned %T", kind, sel.Provider, instance)
	}
	return v, nil
}

// Close releases every provider that holds resources.
func (p *Pipeline) Close() error {
	var err error
	for _, v := range []any{p.STT, p.LLM, p.TTS, p.VAD, p.Turn} {
		if c, ok := v.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
