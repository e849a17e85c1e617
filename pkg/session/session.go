// Package session binds an agent, its pipeline configuration and the room's
// audio into one conversation. A Session is started once and closed once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/chriscow/livekit-voice-agent/internal/metrics"
	"github.com/chriscow/livekit-voice-agent/pkg/agent"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/pipeline"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
	"github.com/chriscow/livekit-voice-agent/pkg/voice"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
	ErrNoIO           = errors.New("session audio I/O is required")
)

// IO is the room audio the session listens to and speaks into.
type IO struct {
	MicIn      <-chan rtc.AudioFrame
	SpeakerOut chan<- rtc.AudioFrame
}

// Options configures a Session.
type Options struct {
	Agent    agent.Agent
	Pipeline pipeline.Config
	// Registry defaults to plugin.Default().
	Registry *plugin.Registry
	IO       IO

	Voice                string
	DisableInterruptions bool
	MinEndpointDelay     time.Duration
	MaxEndpointDelay     time.Duration
	Ambience             *voice.Ambience

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session is one conversation between the agent and the room.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	entered  bool
	pipeline *pipeline.Pipeline
	flow     *voice.Flow
	cancel   context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
	err      error

	closeOnce sync.Once
	closeErr  error
}

// New validates opts. Invalid pipeline parameters are rejected here, before
// any provider is created.
func New(opts Options) (*Session, error) {
	if err := agent.Validate(opts.Agent); err != nil {
		return nil, err
	}
	if err := opts.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.IO.MicIn == nil || opts.IO.SpeakerOut == nil {
		return nil, ErrNoIO
	}
	if opts.Registry == nil {
		opts.Registry = plugin.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:   opts,
		logger: logger.With(slog.String("component", "session")),
		done:   make(chan struct{}),
	}, nil
}

// Start builds the pipeline, starts the conversation and runs the agent's
// OnEnter hook. The conversation keeps running after ctx is cancelled; it
// ends with Close.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	p, err := s.opts.Pipeline.Build(s.opts.Registry)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()

	var gate *turn.Gate
	if p.Turn != nil {
		if gate, err = turn.NewGate(p.Turn, p.TurnThreshold); err != nil {
			return err
		}
	}

	flow, err := voice.New(voice.Config{
		STT:                  p.STT,
		LLM:                  p.LLM,
		TTS:                  p.TTS,
		VAD:                  p.VAD,
		Turn:                 gate,
		Instructions:         s.opts.Agent.Instructions(),
		Language:             p.Language,
		Voice:                s.opts.Voice,
		MicIn:                s.opts.IO.MicIn,
		SpeakerOut:           s.opts.IO.SpeakerOut,
		DisableInterruptions: s.opts.DisableInterruptions,
		MinEndpointDelay:     s.opts.MinEndpointDelay,
		MaxEndpointDelay:     s.opts.MaxEndpointDelay,
		Ambience:             s.opts.Ambience,
		Metrics:              s.opts.Metrics,
		Logger:               s.opts.Logger,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.flow = flow
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		err := flow.Run(runCtx)
		if err != nil {
			s.logger.Error("conversation failed", slog.Any("error", err))
		}
		s.finish(err)
	}()

	if err := s.opts.Agent.OnEnter(ctx, s); err != nil {
		return fmt.Errorf("on enter: %w", err)
	}
	s.mu.Lock()
	s.entered = true
	s.mu.Unlock()

	s.logger.Info("session started",
		slog.String("stt", s.opts.Pipeline.STT.Provider),
		slog.String("llm", s.opts.Pipeline.LLM.Provider),
		slog.String("tts", s.opts.Pipeline.TTS.Provider),
		slog.String("vad", s.opts.Pipeline.VAD.Provider),
		slog.String("turn", s.opts.Pipeline.Turn.Provider),
		slog.String("language", p.Language))
	return nil
}

func (s *Session) finish(err error) {
	s.doneOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Say speaks text in the conversation.
func (s *Session) Say(ctx context.Context, text string) error {
	s.mu.Lock()
	flow := s.flow
	s.mu.Unlock()
	if flow == nil {
		return ErrNotStarted
	}
	return flow.Say(ctx, text)
}

// Done is closed when the conversation ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that ended the conversation, if any. It is nil
// until Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// History returns the conversation so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	flow := s.flow
	s.mu.Unlock()
	if flow == nil {
		return nil
	}
	return flow.History()
}

// Close runs the agent's OnExit hook if OnEnter completed, stops the
// conversation and releases the providers. Later calls return the first
// result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	entered, flow, cancel, p := s.entered, s.flow, s.cancel, s.pipeline
	s.mu.Unlock()

	var err error
	if entered {
		if herr := s.opts.Agent.OnExit(ctx, s); herr != nil {
			err = multierr.Append(err, fmt.Errorf("on exit: %w", herr))
		}
	}

	if cancel != nil {
		cancel()
	}
	if flow != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
			err = multierr.Append(err, fmt.Errorf("waiting for conversation: %w", ctx.Err()))
		}
	} else {
		s.finish(nil)
	}

	if p != nil {
		err = multierr.Append(err, p.Close())
	}
	s.logger.Info("session closed", slog.Bool("greeted", entered))
	return err
}
