// Package config loads the voice agent configuration from a YAML file, a
// .env file and the environment, in that order of increasing precedence.
//
// Provider API keys (DEEPGRAM_API_KEY, OPENAI_API_KEY, ELEVENLABS_API_KEY,
// ELEVENLABS_VOICE_ID) are read by the plugins themselves when their params
// leave them empty, so loading the .env file is enough to supply them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
	"github.com/chriscow/livekit-voice-agent/pkg/pipeline"
)

// Config is the complete agent configuration.
type Config struct {
	LiveKit   LiveKitConfig   `yaml:"livekit"`
	Room      job.RoomOptions `yaml:"room"`
	Pipeline  pipeline.Config `yaml:"pipeline"`
	Agent     AgentConfig     `yaml:"agent"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	// ModelPath is where the VAD and turn models are stored. Empty uses
	// LK_MODEL_PATH or ~/.livekit/models.
	ModelPath string `yaml:"model_path"`
}

// LiveKitConfig addresses the LiveKit deployment.
type LiveKitConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// AgentConfig tunes the conversation.
type AgentConfig struct {
	Voice                string        `yaml:"voice"`
	DisableInterruptions bool          `yaml:"disable_interruptions"`
	MinEndpointDelay     time.Duration `yaml:"min_endpoint_delay"`
	MaxEndpointDelay     time.Duration `yaml:"max_endpoint_delay"`
	// Ambience is an optional WAV file mixed under the agent's voice.
	Ambience       string  `yaml:"ambience"`
	AmbienceVolume float64 `yaml:"ambience_volume"`
}

// LifecycleConfig bounds the session teardown.
type LifecycleConfig struct {
	// TeardownTimeout bounds close and shutdown. Zero waits as long as needed.
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

// DefaultRoomName is the agent's display name in the room.
const DefaultRoomName = "Cascaded Agent for conversational ai for energy"

// Default returns the energy consultant configuration.
func Default() *Config {
	return &Config{
		Room: job.RoomOptions{
			Name:        DefaultRoomName,
			AllowCreate: true,
			Playground:  true,
		},
		Pipeline: pipeline.Config{
			STT: pipeline.Selection{Provider: "deepgram", Params: map[string]any{
				"model":    "nova-2",
				"language": "en",
			}},
			LLM: pipeline.Selection{Provider: "openai", Params: map[string]any{
				"model": "gpt-4o",
			}},
			TTS: pipeline.Selection{Provider: "elevenlabs", Params: map[string]any{
				"model": "eleven_flash_v2_5",
			}},
			VAD: pipeline.Selection{Provider: "silero", Params: map[string]any{
				"threshold": 0.35,
			}},
			Turn: pipeline.Selection{Provider: "english", Params: map[string]any{
				"threshold": 0.8,
			}},
		},
		Agent: AgentConfig{
			MinEndpointDelay: 500 * time.Millisecond,
			MaxEndpointDelay: 6 * time.Second,
			AmbienceVolume:   0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies the
// environment and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	cfg.applyModelPath()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files without overriding
// the environment. Missing files are skipped; with no files it tries ".env".
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides the configuration with the LIVEKIT_* and LK_*
// environment variables.
func (c *Config) ApplyEnv() {
	setFromEnv(&c.LiveKit.URL, "LIVEKIT_URL")
	setFromEnv(&c.LiveKit.APIKey, "LIVEKIT_API_KEY")
	setFromEnv(&c.LiveKit.APISecret, "LIVEKIT_API_SECRET")
	setFromEnv(&c.ModelPath, "LK_MODEL_PATH")
	setFromEnv(&c.Logging.Level, "LK_LOG_LEVEL")
	setFromEnv(&c.Logging.Format, "LK_LOG_FORMAT")
	setFromEnv(&c.Metrics.Addr, "LK_METRICS_ADDR")
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// applyModelPath hands ModelPath to the model-backed stages that do not set
// their own.
func (c *Config) applyModelPath() {
	if c.ModelPath == "" {
		return
	}
	for _, sel := range []*pipeline.Selection{&c.Pipeline.VAD, &c.Pipeline.Turn} {
		if sel.Provider == "" {
			continue
		}
		if sel.Params == nil {
			sel.Params = map[string]any{}
		}
		if _, ok := sel.Params["model_path"]; !ok {
			sel.Params["model_path"] = c.ModelPath
		}
	}
}

// Credentials returns the LiveKit credentials for the job context.
func (c *Config) Credentials() job.Credentials {
	return job.Credentials{
		URL:       c.LiveKit.URL,
		APIKey:    c.LiveKit.APIKey,
		APISecret: c.LiveKit.APISecret,
	}
}

// Validate checks every section. LiveKit credentials are not required here;
// commands that never connect run without them.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent config: %w", err)
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return fmt.Errorf("lifecycle config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate reports missing LiveKit credentials.
func (l *LiveKitConfig) Validate() error {
	var missing []string
	if l.URL == "" {
		missing = append(missing, "url (LIVEKIT_URL)")
	}
	if l.APIKey == "" {
		missing = append(missing, "api_key (LIVEKIT_API_KEY)")
	}
	if l.APISecret == "" {
		missing = append(missing, "api_secret (LIVEKIT_API_SECRET)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Validate validates the conversation settings.
func (a *AgentConfig) Validate() error {
	if a.MinEndpointDelay < 0 {
		return fmt.Errorf("min_endpoint_delay cannot be negative, got %s", a.MinEndpointDelay)
	}
	if a.MaxEndpointDelay > 0 && a.MaxEndpointDelay < a.MinEndpointDelay {
		return fmt.Errorf("max_endpoint_delay (%s) must not be less than min_endpoint_delay (%s)",
			a.MaxEndpointDelay, a.MinEndpointDelay)
	}
	if a.AmbienceVolume < 0 || a.AmbienceVolume > 1 {
		return fmt.Errorf("ambience_volume must be between 0 and 1, got %g", a.AmbienceVolume)
	}
	return nil
}

// Validate validates the teardown bound.
func (l *LifecycleConfig) Validate() error {
	if l.TeardownTimeout < 0 {
		return fmt.Errorf("teardown_timeout cannot be negative, got %s", l.TeardownTimeout)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "json", "console", "text":
	default:
		return fmt.Errorf("format must be 'json', 'console' or 'text', got '%s'", l.Format)
	}
	return nil
}
