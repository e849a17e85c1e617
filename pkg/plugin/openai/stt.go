package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/audio/wav"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	defaultSilenceRMS = 0.01
	// segmentSilence is the quiet run that closes an utterance.
	segmentSilence = 300 * time.Millisecond
	// minSegment is the shortest audio the transcription endpoint accepts.
	minSegment = 100 * time.Millisecond
)

// ErrStreamClosed is returned by Push after CloseSend.
var ErrStreamClosed = errors.New("stream is closed")

// WhisperSTT implements stt.Recognizer by cutting the audio into utterances
// on silence and transcribing each one.
type WhisperSTT struct {
	client     *openai.Client
	model      string
	language   string
	silenceRMS float64
	logger     *slog.Logger
}

// NewWhisperSTT creates a new Whisper recognizer.
func NewWhisperSTT(cfg Config, silenceRMS float64) (*WhisperSTT, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	if silenceRMS <= 0 {
		silenceRMS = defaultSilenceRMS
	}
	return &WhisperSTT{
		client:     newClient(cfg),
		model:      model,
		language:   cfg.Language,
		silenceRMS: silenceRMS,
		logger:     slog.Default().With(slog.String("component", "openai-stt")),
	}, nil
}

// NewStream opens a recognition session.
func (w *WhisperSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	language := cfg.Language
	if language == "" {
		language = w.language
	}
	s := &whisperStream{
		stt:      w,
		ctx:      ctx,
		language: language,
		segments: make(chan []rtc.AudioFrame, 16),
		events:   make(chan stt.SpeechEvent, 16),
	}
	go s.transcribeLoop()
	return s, nil
}

// Capabilities returns the STT capabilities.
func (w *WhisperSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      true,
		InterimResults: false,
		SampleRates:    []int{16000, 24000, 48000},
	}
}

type whisperStream struct {
	stt      *WhisperSTT
	ctx      context.Context
	language string

	mu       sync.Mutex
	closed   bool
	pending  []rtc.AudioFrame
	speaking bool
	quiet    time.Duration

	segments chan []rtc.AudioFrame
	events   chan stt.SpeechEvent
}

func (s *whisperStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	loud := frame.RMS() >= s.stt.silenceRMS
	switch {
	case loud:
		s.speaking = true
		s.quiet = 0
		s.pending = append(s.pending, frame)
	case s.speaking:
		s.pending = append(s.pending, frame)
		s.quiet += frame.Duration()
		if s.quiet >= segmentSilence {
			return s.cut()
		}
	}
	return nil
}

// cut hands the pending utterance to the transcriber. Callers hold mu.
func (s *whisperStream) cut() error {
	segment := s.pending
	s.pending, s.speaking, s.quiet = nil, false, 0

	var d time.Duration
	for i := range segment {
		d += segment[i].Duration()
	}
	if d < minSegment {
		return nil
	}

	select {
	case s.segments <- segment:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *whisperStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

func (s *whisperStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	err := s.cut()
	close(s.segments)
	return err
}

func (s *whisperStream) transcribeLoop() {
	defer close(s.events)

	for segment := range s.segments {
		text, err := s.transcribe(segment)
		if err != nil {
			s.send(stt.SpeechEvent{Type: stt.SpeechEventError, Error: err, Timestamp: time.Now().UnixMilli()})
			return
		}
		if text == "" {
			continue
		}
		s.send(stt.SpeechEvent{
			Type:      stt.SpeechEventFinal,
			Text:      text,
			IsFinal:   true,
			Language:  s.language,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (s *whisperStream) send(ev stt.SpeechEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *whisperStream) transcribe(segment []rtc.AudioFrame) (string, error) {
	data, err := wav.EncodeFrames(segment)
	if err != nil {
		return "", err
	}

	resp, err := s.stt.client.CreateTranscription(s.ctx, openai.AudioRequest{
		Model:    s.stt.model,
		Language: s.language,
		Format:   openai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(data),
		FilePath: "audio.wav",
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", classify(err))
	}

	s.stt.logger.Debug("transcribed segment", slog.Int("frames", len(segment)), slog.String("text", resp.Text))
	return resp.Text, nil
}
