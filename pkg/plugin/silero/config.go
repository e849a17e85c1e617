package silero

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
)

const (
	// ModelFileName is the expected ONNX model file name.
	ModelFileName = "silero_vad.onnx"
	// ModelURL is where the downloader fetches the model from.
	ModelURL = "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx"

	DefaultThreshold          = 0.5
	DefaultMinSpeechDuration  = 50 * time.Millisecond
	DefaultMinSilenceDuration = 550 * time.Millisecond

	// SampleRate is the only rate the model runs at; input is resampled.
	SampleRate = 16000
)

// Config holds configuration for Silero VAD.
type Config struct {
	// Threshold is the activation probability (0..1).
	Threshold          float64
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration
	// ModelPath is the ONNX file; defaults to DefaultModelPath.
	ModelPath string
	// ForceEnergy skips the model and uses the RMS detector.
	ForceEnergy bool
}

// Validate checks the thresholds and fills defaults.
func (c *Config) Validate() error {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if err := vad.ValidateThreshold(c.Threshold); err != nil {
		return fmt.Errorf("silero: %w", err)
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if c.MinSilenceDuration <= 0 {
		c.MinSilenceDuration = DefaultMinSilenceDuration
	}
	if c.ModelPath == "" {
		c.ModelPath = DefaultModelPath()
	}
	return nil
}

// ConfigFromParams reads the plugin parameters. "activation_threshold" is
// accepted as another name for "threshold"; "model_path" is the models
// directory shared with the turn detector.
func ConfigFromParams(p plugin.Params) Config {
	cfg := Config{
		Threshold:          p.Float("threshold", p.Float("activation_threshold", DefaultThreshold)),
		MinSpeechDuration:  p.Duration("min_speech_duration", DefaultMinSpeechDuration),
		MinSilenceDuration: p.Duration("min_silence_duration", DefaultMinSilenceDuration),
		ForceEnergy:        p.Bool("force_energy", false),
	}
	if dir := p.String("model_path", ""); dir != "" {
		cfg.ModelPath = ModelFile(dir)
	}
	return cfg
}

// ModelFile returns the model file inside dir. A path that already names an
// .onnx file is returned as is.
func ModelFile(dir string) string {
	if strings.HasSuffix(dir, ".onnx") {
		return dir
	}
	return filepath.Join(dir, ModelFileName)
}

// DefaultModelPath returns the model location under LK_MODEL_PATH or ~/.livekit/models.
func DefaultModelPath() string {
	modelPath := os.Getenv("LK_MODEL_PATH")
	if modelPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = os.TempDir()
		}
		modelPath = filepath.Join(homeDir, ".livekit", "models")
	}
	return ModelFile(modelPath)
}
