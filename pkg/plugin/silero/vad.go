// Package silero provides voice activity detection with the Silero ONNX
// model, falling back to an energy detector when the model is unavailable.
package silero

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// windowDuration is the audio covered by one inference.
const windowDuration = time.Duration(windowSize) * time.Second / SampleRate

// VAD implements vad.Detector.
type VAD struct {
	cfg       Config
	newProber func() (prober, error)
	useONNX   bool
	logger    *slog.Logger
}

// New creates a detector. A missing or unloadable model is not an error; the
// detector falls back to energy detection and logs why.
func New(cfg Config) (*VAD, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v := &VAD{
		cfg:    cfg,
		logger: slog.Default().With(slog.String("component", "silero")),
	}
	v.newProber = func() (prober, error) { return energyProber{}, nil }

	if cfg.ForceEnergy {
		return v, nil
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		v.logger.Info("silero model not found, using energy detection", slog.String("model_path", cfg.ModelPath))
		return v, nil
	}

	// Load once up front so a broken model is reported at build time.
	m, err := loadModel(cfg.ModelPath)
	if err != nil {
		v.logger.Warn("failed to load silero model, using energy detection",
			slog.String("model_path", cfg.ModelPath), slog.Any("error", err))
		return v, nil
	}
	m.Close()

	v.useONNX = true
	v.newProber = func() (prober, error) { return loadModel(cfg.ModelPath) }
	return v, nil
}

// UsesModel reports whether detection runs on the ONNX model.
func (v *VAD) UsesModel() bool {
	return v.useONNX
}

// Detect implements vad.Detector. Each call gets its own model state.
func (v *VAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.Event, error) {
	p, err := v.newProber()
	if err != nil {
		return nil, err
	}

	events := make(chan vad.Event, 10)
	go func() {
		defer close(events)
		defer p.Close()
		v.run(ctx, p, frames, events)
	}()
	return events, nil
}

func (v *VAD) run(ctx context.Context, p prober, frames <-chan rtc.AudioFrame, events chan<- vad.Event) {
	activation := float32(v.cfg.Threshold)
	deactivation := max(activation-0.15, 0.01)

	var (
		buf      []float32
		speaking bool
		speechAt time.Duration // accumulated above-threshold audio
		silence  time.Duration // accumulated below-threshold audio
	)

	emit := func(t vad.EventType, prob float32) bool {
		select {
		case events <- vad.Event{Type: t, Timestamp: time.Now(), Probability: prob}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				if speaking {
					emit(vad.EventSpeechEnd, 0)
				}
				return
			}

			if frame.SampleRate != SampleRate || frame.NumChannels > 1 {
				frame = rtc.Resample(frame, SampleRate)
			}
			for _, s := range frame.Samples() {
				buf = append(buf, float32(s)/32768)
			}

			for len(buf) >= windowSize {
				prob, err := p.Prob(buf[:windowSize])
				buf = buf[windowSize:]
				if err != nil {
					select {
					case events <- vad.Event{Type: vad.EventError, Timestamp: time.Now(), Error: err}:
					case <-ctx.Done():
					}
					return
				}

				switch {
				case prob >= activation:
					silence = 0
					speechAt += windowDuration
					if !speaking && speechAt >= v.cfg.MinSpeechDuration {
						speaking = true
						if !emit(vad.EventSpeechStart, prob) {
							return
						}
					}
				case prob < deactivation:
					speechAt = 0
					if speaking {
						silence += windowDuration
						if silence >= v.cfg.MinSilenceDuration {
							speaking = false
							silence = 0
							p.Reset()
							if !emit(vad.EventSpeechEnd, prob) {
								return
							}
						}
					}
				}
			}
		}
	}
}

// Capabilities returns the VAD capabilities.
func (v *VAD) Capabilities() vad.Capabilities {
	return vad.Capabilities{
		SampleRates:        []int{8000, 16000, 24000, 48000},
		MinSpeechDuration:  v.cfg.MinSpeechDuration,
		MinSilenceDuration: v.cfg.MinSilenceDuration,
		Threshold:          float32(v.cfg.Threshold),
	}
}

func newSileroVAD(cfg map[string]any) (any, error) {
	return New(ConfigFromParams(plugin.Params(cfg)))
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindVAD,
		Name:        "silero",
		Factory:     newSileroVAD,
		Description: "Silero VAD with ONNX model and energy-based fallback",
		Version:     "1.1.0",
		Config: map[string]any{
			"threshold":            DefaultThreshold,
			"activation_threshold": DefaultThreshold,
			"min_speech_duration":  DefaultMinSpeechDuration.String(),
			"min_silence_duration": DefaultMinSilenceDuration.String(),
			"model_path":           "",
			"force_energy":         false,
		},
		Downloader: NewDownloader(""),
	})
}
