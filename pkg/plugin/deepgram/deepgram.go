// Package deepgram provides streaming speech recognition over the Deepgram
// live transcription websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	providerName = "deepgram"

	DefaultURL      = "wss://api.deepgram.com/v1/listen"
	DefaultModel    = "nova-2"
	DefaultLanguage = "en"

	// sampleRate is what frames are resampled to before sending.
	sampleRate = 16000

	keepAliveInterval = 5 * time.Second
	writeTimeout      = 5 * time.Second
)

// ErrStreamClosed is returned by Push after CloseSend.
var ErrStreamClosed = errors.New("stream is closed")

// Config configures the recognizer.
type Config struct {
	APIKey         string
	URL            string
	Model          string
	Language       string
	InterimResults bool
	// Endpointing is the silence Deepgram waits for before speech_final.
	Endpointing time.Duration
}

// STT implements stt.Recognizer.
type STT struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// New creates a Deepgram recognizer.
func New(cfg Config) (*STT, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ai.NewFatalError(providerName, ai.ErrMissingAPIKey, "deepgram api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	return &STT{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: slog.Default().With(slog.String("component", "deepgram")),
	}, nil
}

// Capabilities returns the recognizer capabilities.
func (d *STT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      true,
		InterimResults: d.cfg.InterimResults,
		SampleRates:    []int{sampleRate},
	}
}

func (d *STT) streamURL(language string) (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("language", language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(d.cfg.InterimResults))
	if d.cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(d.cfg.Endpointing.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewStream dials the live endpoint.
func (d *STT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	language := cfg.Language
	if language == "" {
		language = d.cfg.Language
	}
	wsURL, err := d.streamURL(language)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("deepgram connect: %w", ai.ClassifyHTTPStatus(providerName, resp.StatusCode, string(body)))
		}
		return nil, fmt.Errorf("deepgram connect: %w", ai.NewRecoverableError(providerName, err, "dial failed"))
	}

	s := &stream{
		conn:     conn,
		language: language,
		events:   make(chan stt.SpeechEvent, 32),
		done:     make(chan struct{}),
		lastSent: time.Now(),
		logger:   d.logger,
	}
	go s.readLoop(ctx)
	go s.keepAlive()
	return s, nil
}

type stream struct {
	conn     *websocket.Conn
	language string
	logger   *slog.Logger

	writeMu  sync.Mutex
	closed   bool
	lastSent time.Time

	events chan stt.SpeechEvent
	done   chan struct{}
}

// message covers the Results, UtteranceEnd and Metadata payloads.
type message struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

func (s *stream) Push(frame rtc.AudioFrame) error {
	if frame.SampleRate != sampleRate || frame.NumChannels > 1 {
		frame = rtc.Resample(frame, sampleRate)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.lastSent = time.Now()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
		return fmt.Errorf("deepgram send: %w", err)
	}
	return nil
}

func (s *stream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend asks Deepgram to flush and close; remaining results still arrive.
func (s *stream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

func (s *stream) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			if !s.closed && time.Since(s.lastSent) >= keepAliveInterval {
				s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			}
			s.writeMu.Unlock()
		}
	}
}

func (s *stream) readLoop(ctx context.Context) {
	defer close(s.events)
	defer close(s.done)
	defer s.conn.Close()

	// Unblock ReadMessage when the caller goes away.
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.isClosed() {
				s.emit(ctx, stt.SpeechEvent{Type: stt.SpeechEventError, Error: fmt.Errorf("deepgram read: %w", err), Timestamp: time.Now().UnixMilli()})
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed message", slog.Any("error", err))
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			if alt.Transcript != "" {
				typ := stt.SpeechEventInterim
				if msg.IsFinal {
					typ = stt.SpeechEventFinal
				}
				if !s.emit(ctx, stt.SpeechEvent{
					Type:       typ,
					Text:       alt.Transcript,
					IsFinal:    msg.IsFinal,
					Confidence: alt.Confidence,
					Language:   s.language,
					Timestamp:  time.Now().UnixMilli(),
				}) {
					return
				}
			}
			if msg.SpeechFinal && !s.emit(ctx, stt.SpeechEvent{Type: stt.SpeechEventEndOfSpeech, Timestamp: time.Now().UnixMilli()}) {
				return
			}
		case "UtteranceEnd":
			if !s.emit(ctx, stt.SpeechEvent{Type: stt.SpeechEventEndOfSpeech, Timestamp: time.Now().UnixMilli()}) {
				return
			}
		case "Metadata":
			if s.isClosed() {
				return
			}
		}
	}
}

func (s *stream) isClosed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}

func (s *stream) emit(ctx context.Context, ev stt.SpeechEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
