// Package voice runs the conversation: it listens to the room, decides when
// the user has finished a turn, and speaks the language model's reply. The
// flow moves through Idle → Listening → Thinking → Speaking.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/livekit-voice-agent/internal/metrics"
	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

// State is the conversation state.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

const (
	// SampleRate is the rate mic audio is converted to for VAD and STT.
	SampleRate = 16000

	DefaultMinEndpointDelay = 500 * time.Millisecond
	DefaultMaxEndpointDelay = 6 * time.Second
	DefaultMaxHistory       = 20

	// maxPreroll bounds the audio kept while no STT stream is open, so the
	// first words of an utterance reach the recognizer.
	maxPreroll = 50
)

// ErrAlreadyRunning is returned by Run on a flow that is already running.
var ErrAlreadyRunning = errors.New("flow is already running")

// Config holds the providers and audio channels of a Flow.
type Config struct {
	STT stt.Recognizer
	LLM llm.Model
	TTS tts.Synthesizer
	VAD vad.Detector
	// Turn decides end of turn. Nil commits every utterance after
	// MinEndpointDelay.
	Turn *turn.Gate

	Instructions string
	Language     string
	Voice        string

	MicIn      <-chan rtc.AudioFrame
	SpeakerOut chan<- rtc.AudioFrame

	// DisableInterruptions mutes the mic while the agent speaks.
	DisableInterruptions bool
	// MinEndpointDelay is waited after a likely end of turn,
	// MaxEndpointDelay after an unlikely one.
	MinEndpointDelay time.Duration
	MaxEndpointDelay time.Duration
	MaxHistory       int

	Ambience *Ambience
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Flow is a running conversation.
type Flow struct {
	cfg     Config
	gate    micGate
	logger  *slog.Logger
	metrics *metrics.Metrics

	state   atomic.Int32
	running atomic.Bool

	historyMu sync.Mutex
	history   *llm.History

	// mic audio routing, shared by the pump and the loop
	streamMu sync.Mutex
	stream   stt.Stream
	preroll  []rtc.AudioFrame

	// speakMu serializes playback; speechCancel interrupts it.
	speakMu      sync.Mutex
	speechMu     sync.Mutex
	speechCancel context.CancelFunc
}

// New creates a Flow.
func New(cfg Config) (*Flow, error) {
	switch {
	case cfg.STT == nil:
		return nil, errors.New("STT is required")
	case cfg.LLM == nil:
		return nil, errors.New("LLM is required")
	case cfg.TTS == nil:
		return nil, errors.New("TTS is required")
	case cfg.VAD == nil:
		return nil, errors.New("VAD is required")
	case cfg.MicIn == nil:
		return nil, errors.New("MicIn channel is required")
	case cfg.SpeakerOut == nil:
		return nil, errors.New("SpeakerOut channel is required")
	}
	if cfg.MinEndpointDelay <= 0 {
		cfg.MinEndpointDelay = DefaultMinEndpointDelay
	}
	if cfg.MaxEndpointDelay <= 0 {
		cfg.MaxEndpointDelay = DefaultMaxEndpointDelay
	}
	if cfg.MaxEndpointDelay < cfg.MinEndpointDelay {
		cfg.MaxEndpointDelay = cfg.MinEndpointDelay
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Flow{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "voice")),
		metrics: cfg.Metrics,
		history: llm.NewHistory(cfg.Instructions, cfg.MaxHistory),
	}, nil
}

// State returns the current conversation state.
func (f *Flow) State() State {
	return State(f.state.Load())
}

func (f *Flow) setState(s State) {
	old := State(f.state.Swap(int32(s)))
	if old != s {
		f.transitioned(old, s)
	}
}

func (f *Flow) casState(from, to State) bool {
	if f.state.CompareAndSwap(int32(from), int32(to)) {
		f.transitioned(from, to)
		return true
	}
	return false
}

func (f *Flow) transitioned(from, to State) {
	f.metrics.RecordTransition(from.String(), to.String())
	f.logger.Debug("conversation state", slog.String("from", from.String()), slog.String("to", to.String()))
}

// History returns the conversation so far, system prompt first.
func (f *Flow) History() []llm.Message {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()
	return f.history.Messages()
}

func (f *Flow) remember(role llm.MessageRole, text string) {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()
	f.history.Add(role, text)
}

func (f *Flow) turns() []llm.Message {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()
	return f.history.Turns()
}

// Say speaks text and records it as an assistant message. Calls are
// serialized with replies. User speech interrupts it unless interruptions
// are disabled; an interrupted Say returns nil.
func (f *Flow) Say(ctx context.Context, text string) error {
	f.casState(StateIdle, StateSpeaking)
	defer f.casState(StateSpeaking, StateIdle)

	f.remember(llm.RoleAssistant, text)
	err := f.speak(ctx, text, time.Time{})
	if errors.Is(err, errInterrupted) {
		return nil
	}
	return err
}

var errInterrupted = errors.New("speech interrupted")

// speak synthesizes text onto SpeakerOut. committed, when set, is the time
// the user's turn ended and is used for first-word latency.
func (f *Flow) speak(ctx context.Context, text string, committed time.Time) error {
	f.speakMu.Lock()
	defer f.speakMu.Unlock()

	speechCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.speechMu.Lock()
	f.speechCancel = cancel
	f.speechMu.Unlock()
	defer func() {
		f.speechMu.Lock()
		f.speechCancel = nil
		f.speechMu.Unlock()
	}()

	if f.cfg.DisableInterruptions {
		defer f.gate.hold()()
	}

	started := time.Now()
	res, err := f.cfg.TTS.Synthesize(speechCtx, tts.SynthesizeRequest{
		Text:     text,
		Voice:    f.cfg.Voice,
		Language: f.cfg.Language,
	})
	if err != nil {
		return f.speechErr(ctx, speechCtx, fmt.Errorf("tts: %w", err))
	}

	first := true
	for frame := range res.Frames() {
		if first {
			first = false
			f.metrics.RecordProvider("tts", time.Since(started))
			if !committed.IsZero() {
				f.metrics.RecordFirstWord(time.Since(committed))
			}
		}
		frame = f.cfg.Ambience.Mix(frame)
		select {
		case f.cfg.SpeakerOut <- frame:
		case <-speechCtx.Done():
			return f.speechErr(ctx, speechCtx, speechCtx.Err())
		}
	}
	if err := res.Err(); err != nil {
		return f.speechErr(ctx, speechCtx, fmt.Errorf("tts: %w", err))
	}
	if speechCtx.Err() != nil {
		return f.speechErr(ctx, speechCtx, speechCtx.Err())
	}
	return nil
}

// speechErr maps a cancellation of the speech context alone to errInterrupted.
func (f *Flow) speechErr(parent, speech context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if speech.Err() != nil {
		return errInterrupted
	}
	return err
}

func (f *Flow) interruptSpeech() bool {
	f.speechMu.Lock()
	defer f.speechMu.Unlock()
	if f.speechCancel == nil {
		return false
	}
	f.speechCancel()
	return true
}

// feed routes a mic frame to the open STT stream, or to the preroll buffer
// while none is open.
func (f *Flow) feed(frame rtc.AudioFrame) {
	f.streamMu.Lock()
	defer f.streamMu.Unlock()
	if f.stream != nil {
		if err := f.stream.Push(frame); err != nil {
			f.logger.Debug("stt push failed", slog.Any("error", err))
		}
		return
	}
	f.preroll = append(f.preroll, frame)
	if len(f.preroll) > maxPreroll {
		f.preroll = f.preroll[len(f.preroll)-maxPreroll:]
	}
}

func (f *Flow) openStream(ctx context.Context) (<-chan stt.SpeechEvent, error) {
	s, err := f.cfg.STT.NewStream(ctx, stt.StreamConfig{
		SampleRate:  SampleRate,
		NumChannels: 1,
		Language:    f.cfg.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("stt: %w", err)
	}

	f.streamMu.Lock()
	defer f.streamMu.Unlock()
	for _, frame := range f.preroll {
		if err := s.Push(frame); err != nil {
			break
		}
	}
	f.preroll = nil
	f.stream = s
	return s.Events(), nil
}

func (f *Flow) closeStream() {
	f.streamMu.Lock()
	s := f.stream
	f.stream = nil
	f.streamMu.Unlock()
	if s != nil {
		if err := s.CloseSend(); err != nil {
			f.logger.Debug("stt close failed", slog.Any("error", err))
		}
	}
}

func (f *Flow) pump(ctx context.Context, vadIn chan<- rtc.AudioFrame) {
	defer close(vadIn)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-f.cfg.MicIn:
			if !ok {
				return
			}
			if !f.gate.open() {
				f.metrics.RecordDroppedFrame("in")
				continue
			}
			if frame.SampleRate != SampleRate || frame.NumChannels != 1 {
				frame = rtc.Resample(frame, SampleRate)
			}
			f.feed(frame)
			select {
			case vadIn <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

type replyResult struct {
	text string
	err  error
}

// Run drives the conversation until ctx is cancelled or the microphone
// closes, which both return nil, or until a provider fails.
func (f *Flow) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	vadIn := make(chan rtc.AudioFrame, 50)
	vadEvents, err := f.cfg.VAD.Detect(runCtx, vadIn)
	if err != nil {
		return fmt.Errorf("vad: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.pump(runCtx, vadIn)
	}()

	l := &loop{Flow: f, ctx: runCtx, replyDone: make(chan replyResult, 1), wg: &wg}
	err = l.run(vadEvents)

	cancel()
	f.closeStream()
	wg.Wait()
	return err
}

// loop holds the state owned by the Run goroutine.
type loop struct {
	*Flow
	ctx context.Context
	wg  *sync.WaitGroup

	sttEvents    <-chan stt.SpeechEvent
	draining     bool // CloseSend issued, waiting for the final results
	userSpeaking bool
	pending      []string

	endpoint  *time.Timer
	endpointC <-chan time.Time

	replying    bool
	replyCancel context.CancelFunc
	replyDone   chan replyResult
	commitAfter bool
}

func (l *loop) run(vadEvents <-chan vad.Event) error {
	defer func() {
		l.stopEndpoint()
		if l.replyCancel != nil {
			l.replyCancel()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return nil

		case ev, ok := <-vadEvents:
			if !ok {
				return nil
			}
			if err := l.onVAD(ev); err != nil {
				return err
			}

		case ev, ok := <-l.sttEvents:
			if !ok {
				l.sttEvents = nil
				l.draining = false
				if err := l.onStreamClosed(); err != nil {
					return err
				}
				continue
			}
			if err := l.onSTT(ev); err != nil {
				return err
			}

		case <-l.endpointC:
			l.endpointC = nil
			l.commit()

		case res := <-l.replyDone:
			if err := l.onReplyDone(res); err != nil {
				return err
			}
		}
	}
}

func (l *loop) onVAD(ev vad.Event) error {
	switch ev.Type {
	case vad.EventSpeechStart:
		l.userSpeaking = true
		l.stopEndpoint()
		switch {
		case l.replying && l.cfg.DisableInterruptions:
			// heard while thinking; queued until the reply is done
		case l.replying:
			l.interrupt()
			l.setState(StateListening)
		default:
			if !l.cfg.DisableInterruptions && l.interruptSpeech() { // Say in progress
				l.metrics.RecordInterruption()
			}
			l.setState(StateListening)
		}
		if l.sttEvents == nil {
			return l.startListening()
		}

	case vad.EventSpeechEnd:
		l.userSpeaking = false
		if l.sttEvents != nil && !l.draining {
			l.draining = true
			l.closeStream()
		}

	case vad.EventError:
		return fmt.Errorf("vad: %w", ev.Error)
	}
	return nil
}

func (l *loop) startListening() error {
	events, err := l.openStream(l.ctx)
	if err != nil {
		return err
	}
	l.sttEvents = events
	return nil
}

func (l *loop) onSTT(ev stt.SpeechEvent) error {
	switch ev.Type {
	case stt.SpeechEventFinal:
		if text := strings.TrimSpace(ev.Text); text != "" {
			l.pending = append(l.pending, text)
		}
		l.logger.Debug("final transcript", slog.String("text", ev.Text))
	case stt.SpeechEventError:
		if ai.IsRecoverable(ev.Error) {
			l.logger.Warn("stt stream failed", slog.Any("error", ev.Error))
			return nil
		}
		return fmt.Errorf("stt: %w", ev.Error)
	}
	return nil
}

func (l *loop) onStreamClosed() error {
	if l.userSpeaking {
		// the user resumed before the old stream drained
		return l.startListening()
	}
	l.endOfUtterance()
	return nil
}

// endOfUtterance asks the turn gate whether the user is done and arms the
// endpoint timer accordingly.
func (l *loop) endOfUtterance() {
	if len(l.pending) == 0 {
		if !l.replying {
			l.setState(StateIdle)
		}
		return
	}

	delay := l.cfg.MinEndpointDelay
	if l.cfg.Turn != nil {
		chatCtx := turn.ChatContext{
			Messages: append(l.turns(), llm.Message{Role: llm.RoleUser, Content: l.pendingText()}),
			Language: l.cfg.Language,
		}
		done, p, err := l.cfg.Turn.Decide(l.ctx, chatCtx)
		switch {
		case err != nil:
			l.logger.Warn("turn detection failed, treating turn as complete", slog.Any("error", err))
		case !done:
			delay = l.cfg.MaxEndpointDelay
			l.logger.Debug("user likely to continue", slog.Float64("probability", p))
		}
	}
	l.armEndpoint(delay)
}

func (l *loop) pendingText() string {
	return strings.Join(l.pending, " ")
}

func (l *loop) armEndpoint(d time.Duration) {
	l.stopEndpoint()
	l.endpoint = time.NewTimer(d)
	l.endpointC = l.endpoint.C
}

func (l *loop) stopEndpoint() {
	if l.endpoint != nil {
		l.endpoint.Stop()
		l.endpoint = nil
	}
	l.endpointC = nil
}

// commit ends the user's turn and starts the reply.
func (l *loop) commit() {
	if len(l.pending) == 0 {
		return
	}
	if l.replying {
		l.commitAfter = true
		return
	}

	text := l.pendingText()
	l.pending = nil
	l.remember(llm.RoleUser, text)
	l.logger.Info("user turn", slog.String("text", text))
	l.setState(StateThinking)

	replyCtx, cancel := context.WithCancel(l.ctx)
	l.replying = true
	l.replyCancel = cancel
	committed := time.Now()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		text, err := l.reply(replyCtx, committed)
		l.replyDone <- replyResult{text: text, err: err}
	}()
}

// reply runs in its own goroutine; it must not touch loop state.
func (f *Flow) reply(ctx context.Context, committed time.Time) (string, error) {
	started := time.Now()
	resp, err := f.cfg.LLM.Chat(ctx, llm.ChatRequest{Messages: f.History()})
	if err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		return "", fmt.Errorf("llm: %w", err)
	}
	f.metrics.RecordProvider("llm", time.Since(started))

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", nil
	}
	if !f.casState(StateThinking, StateSpeaking) {
		return "", nil // interrupted while thinking
	}
	f.remember(llm.RoleAssistant, text)
	f.logger.Info("agent turn", slog.String("text", text))

	err = f.speak(ctx, text, committed)
	if errors.Is(err, errInterrupted) || ctx.Err() != nil {
		return text, nil
	}
	return text, err
}

func (l *loop) interrupt() {
	if l.replyCancel != nil {
		l.replyCancel()
	}
	l.metrics.RecordInterruption()
	l.logger.Info("reply interrupted")
}

func (l *loop) onReplyDone(res replyResult) error {
	l.replying = false
	if l.replyCancel != nil {
		l.replyCancel()
		l.replyCancel = nil
	}

	if res.err != nil {
		if !ai.IsRecoverable(res.err) {
			return res.err
		}
		l.logger.Warn("reply failed", slog.Any("error", res.err))
	}

	if l.commitAfter {
		l.commitAfter = false
		l.commit()
		return nil
	}
	if !l.userSpeaking && l.sttEvents == nil && len(l.pending) == 0 {
		l.setState(StateIdle)
		return nil
	}
	// the user is talking or a transcript is still on its way
	l.setState(StateListening)
	return nil
}
