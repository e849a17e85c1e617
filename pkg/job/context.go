// Package job holds the connection context of an agent job: the LiveKit room
// the agent joins, its microphone input and its published voice.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

var (
	// ErrShutdown is returned by Connect after Shutdown.
	ErrShutdown = errors.New("job: context shut down")
	// ErrDisconnected is reported by Err when the room connection drops.
	ErrDisconnected = errors.New("job: disconnected from room")
)

// dialFunc joins a room with a signed token.
type dialFunc func(url, token string, cb *lksdk.RoomCallback) (*lksdk.Room, error)

func dialRoom(url, token string, cb *lksdk.RoomCallback) (*lksdk.Room, error) {
	return lksdk.ConnectToRoomWithToken(url, token, cb)
}

// Context owns the room connection of one job from Connect until Shutdown.
type Context struct {
	cfg      Config
	identity string
	svc      RoomService
	dial     dialFunc
	logger   *slog.Logger

	room    *Room
	speaker chan rtc.AudioFrame

	mu         sync.Mutex
	connected  bool
	shutdown   bool
	roomName   string
	playground string
	lk         *lksdk.Room
	provider   *speakerProvider
	hooks      []func(context.Context) error

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Context.
type Option func(*Context)

// WithRoomService replaces the LiveKit room service client.
func WithRoomService(svc RoomService) Option {
	return func(c *Context) { c.svc = svc }
}

// New creates an unconnected context. Credentials are checked by Connect.
func New(cfg Config, opts ...Option) *Context {
	cfg.setDefaults()
	identity := cfg.Identity
	if identity == "" {
		identity = RoomPrefix + uuid.NewString()
	}
	c := &Context{
		cfg:      cfg,
		identity: identity,
		dial:     dialRoom,
		logger:   cfg.Logger.With(slog.String("component", "job"), slog.String("identity", identity)),
		speaker:  make(chan rtc.AudioFrame, cfg.SpeakerBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.svc == nil {
		c.svc = NewRoomService(cfg.Credentials)
	}
	c.room = newRoom(Config{
		EventBuffer: cfg.EventBuffer,
		MicBuffer:   cfg.MicBuffer,
		Metrics:     cfg.Metrics,
		Logger:      c.logger,
	})
	return c
}

// Connect resolves the room, joins it as the agent and publishes the agent's
// voice track.
func (c *Context) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.shutdown:
		return ErrShutdown
	case c.connected:
		return ErrAlreadyConnected
	}
	if err := c.cfg.Credentials.validate(); err != nil {
		return err
	}

	name, err := resolveRoom(ctx, c.svc, c.cfg.Room)
	if err != nil {
		return err
	}
	token, err := accessToken(c.cfg.Credentials, name, c.identity, c.cfg.Room.Name, c.cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	provider, err := newSpeakerProvider(c.speaker)
	if err != nil {
		return err
	}

	lk, err := c.dial(c.cfg.URL, token, c.room.callback())
	if err != nil {
		return fmt.Errorf("join room %q: %w", name, err)
	}
	if err := publishVoice(lk, provider); err != nil {
		lk.Disconnect()
		return err
	}

	c.lk = lk
	c.provider = provider
	c.roomName = name
	c.connected = true
	c.logger.Info("connected to room",
		slog.String("room", name),
		slog.String("url", c.cfg.URL),
		slog.String("name", c.cfg.Room.Name))

	if c.cfg.Room.Playground {
		link, err := playgroundLink(c.cfg.Credentials, name, c.cfg.TokenTTL)
		if err != nil {
			c.logger.Warn("cannot create playground link", slog.Any("error", err))
		} else {
			c.playground = link
			c.logger.Info("join the agent in your browser", slog.String("playground", link))
		}
	}
	return nil
}

func publishVoice(lk *lksdk.Room, provider *speakerProvider) error {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusRate,
		Channels:  1,
	})
	if err != nil {
		return fmt.Errorf("create voice track: %w", err)
	}
	if err := track.StartWrite(provider, func() {}); err != nil {
		return fmt.Errorf("start voice track: %w", err)
	}
	_, err = lk.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return fmt.Errorf("publish voice track: %w", err)
	}
	return nil
}

// OnShutdown registers hook to run at the start of Shutdown, before the room
// is left. Hooks registered after Shutdown run immediately.
func (c *Context) OnShutdown(hook func(ctx context.Context) error) {
	c.mu.Lock()
	if !c.shutdown {
		c.hooks = append(c.hooks, hook)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownHookTimeout)
	defer cancel()
	if err := hook(ctx); err != nil {
		c.logger.Warn("late shutdown hook failed", slog.Any("error", err))
	}
}

// Shutdown plays out the queued speech unless the room was lost, runs the shutdown hooks, leaves the
// room and closes the audio streams. It is safe to call without a successful
// Connect and only acts once; later calls return the first result.
func (c *Context) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.shutdown = true
		hooks := c.hooks
		c.hooks = nil
		lk, provider := c.lk, c.provider
		c.mu.Unlock()

		if provider != nil && c.Err() == nil {
			c.drainSpeaker(ctx, provider)
		}

		err := runHooks(ctx, hooks, c.logger)

		if provider != nil {
			_ = provider.Close()
		}
		c.room.leave()
		if lk != nil {
			lk.Disconnect()
			c.logger.Info("left room", slog.String("room", c.RoomName()))
		}
		c.room.close()
		c.shutdownErr = err
	})
	return c.shutdownErr
}

// drainSpeaker lets the track send what is still queued, bounded by ctx or
// SpeakerDrainTimeout. Unplayed audio is logged, not returned.
func (c *Context) drainSpeaker(ctx context.Context, provider *speakerProvider) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, SpeakerDrainTimeout)
		defer cancel()
	}
	if err := provider.drain(ctx); err != nil {
		c.logger.Warn("speaker audio dropped at shutdown",
			slog.Int("queued_frames", len(c.speaker)), slog.Any("error", err))
	}
}

// runHooks runs every hook concurrently and waits for them, bounded by ctx or
// ShutdownHookTimeout when ctx has no deadline.
func runHooks(ctx context.Context, hooks []func(context.Context) error, logger *slog.Logger) error {
	if len(hooks) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ShutdownHookTimeout)
		defer cancel()
	}

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, hook := range hooks {
		wg.Add(1)
		go func(h func(context.Context) error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("shutdown hook panicked", slog.Any("panic", r))
					mu.Lock()
					errs = multierr.Append(errs, fmt.Errorf("shutdown hook panicked: %v", r))
					mu.Unlock()
				}
			}()
			if err := h(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(hook)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		return errs
	case <-ctx.Done():
		logger.Warn("shutdown hooks timed out")
		return fmt.Errorf("shutdown hooks: %w", ctx.Err())
	}
}

// Done is closed when the room connection drops while the job runs. A
// Shutdown never closes it.
func (c *Context) Done() <-chan struct{} {
	return c.room.Lost()
}

// Err returns ErrDisconnected once Done is closed, nil before.
func (c *Context) Err() error {
	select {
	case <-c.room.Lost():
		return fmt.Errorf("room %q: %w", c.RoomName(), ErrDisconnected)
	default:
		return nil
	}
}

// MicIn delivers the linked participant's audio as 10 ms 48 kHz mono frames.
// It is closed by Shutdown.
func (c *Context) MicIn() <-chan rtc.AudioFrame {
	return c.room.mic
}

// SpeakerOut accepts the agent's audio at any rate. It is never closed.
func (c *Context) SpeakerOut() chan<- rtc.AudioFrame {
	return c.speaker
}

// Room returns the remote side of the room.
func (c *Context) Room() *Room {
	return c.room
}

// Identity is the agent's participant identity.
func (c *Context) Identity() string {
	return c.identity
}

// RoomName is the joined room, empty before Connect.
func (c *Context) RoomName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomName
}

// PlaygroundLink is the browser join link, set after Connect when the
// playground is enabled.
func (c *Context) PlaygroundLink() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playground
}
