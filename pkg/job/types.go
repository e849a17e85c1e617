package job

import (
	"errors"
	"log/slog"
	"time"

	"github.com/chriscow/livekit-voice-agent/internal/metrics"
)

var (
	ErrMissingCredentials = errors.New("job: LiveKit URL, API key and API secret are required")
	ErrRoomNotFound       = errors.New("job: room not found")
	ErrNoRoom             = errors.New("job: a room id is required when room creation is not allowed")
	ErrAlreadyConnected   = errors.New("job: already connected")
)

// RoomOptions selects the room the agent joins.
type RoomOptions struct {
	// Name is the agent's display name in the room.
	Name string `yaml:"name"`
	// RoomID joins a pre-created room. Empty with AllowCreate set creates a
	// fresh room.
	RoomID string `yaml:"room_id"`
	// AllowCreate lets Connect create the room when it does not exist.
	AllowCreate bool `yaml:"allow_create"`
	// Playground logs a browser join link once connected.
	Playground bool `yaml:"playground"`
}

// Credentials address a LiveKit deployment.
type Credentials struct {
	URL       string
	APIKey    string
	APISecret string
}

// Config configures a Context.
type Config struct {
	Credentials
	Room RoomOptions

	// Identity of the agent participant. Defaults to "agent-<uuid>".
	Identity string
	// TokenTTL bounds the agent and playground tokens.
	TokenTTL time.Duration
	// MicBuffer is the number of 10 ms frames buffered from the room.
	MicBuffer int
	// SpeakerBuffer is the number of 10 ms frames buffered to the room.
	SpeakerBuffer int
	// EventBuffer is the size of the room event channel.
	EventBuffer int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

const (
	// RoomPrefix names rooms created without an explicit id.
	RoomPrefix = "agent-"
	// PlaygroundURL is the hosted LiveKit meet client.
	PlaygroundURL = "https://meet.livekit.io/custom"

	DefaultTokenTTL      = 6 * time.Hour
	DefaultMicBuffer     = 200
	DefaultSpeakerBuffer = 50
	DefaultEventBuffer   = 100

	// ShutdownHookTimeout bounds each shutdown hook when the context given to
	// Shutdown has no deadline.
	ShutdownHookTimeout = 5 * time.Second
	// SpeakerDrainTimeout bounds how long Shutdown waits for queued speech,
	// such as a farewell, to reach the room when ctx has no deadline.
	SpeakerDrainTimeout = 10 * time.Second
)

func (c *Config) setDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.MicBuffer <= 0 {
		c.MicBuffer = DefaultMicBuffer
	}
	if c.SpeakerBuffer <= 0 {
		c.SpeakerBuffer = DefaultSpeakerBuffer
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c Credentials) validate() error {
	if c.URL == "" || c.APIKey == "" || c.APISecret == "" {
		return ErrMissingCredentials
	}
	return nil
}
