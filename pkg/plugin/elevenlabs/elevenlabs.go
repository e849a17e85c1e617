// Package elevenlabs provides streaming speech synthesis over the ElevenLabs
// stream-input websocket.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	providerName = "elevenlabs"

	DefaultWSBase  = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"
	DefaultModel   = "eleven_flash_v2_5"
	DefaultVoiceID = "EXAVITQu4vr4xnJT9Y6X"

	outputFormat = "pcm_24000"
	sampleRate   = 24000
	writeTimeout = 5 * time.Second
)

// Config configures the synthesizer.
type Config struct {
	APIKey  string
	VoiceID string
	Model   string
	WSBase  string
}

// TTS implements tts.Synthesizer.
type TTS struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// New creates an ElevenLabs synthesizer.
func New(cfg Config) (*TTS, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ai.NewFatalError(providerName, ai.ErrMissingAPIKey, "elevenlabs api key is required")
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.WSBase == "" {
		cfg.WSBase = DefaultWSBase
	}
	return &TTS{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: slog.Default().With(slog.String("component", "elevenlabs")),
	}, nil
}

// Capabilities returns the synthesizer capabilities.
func (e *TTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		Streaming:  true,
		SampleRate: sampleRate,
		Voices:     []string{e.cfg.VoiceID},
	}
}

func (e *TTS) streamURL(voiceID string) (string, error) {
	base := strings.ReplaceAll(e.cfg.WSBase, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	q := u.Query()
	q.Set("model_id", e.cfg.Model)
	q.Set("output_format", outputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type inbound struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize opens a stream-input session for one utterance.
func (e *TTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*tts.Result, error) {
	voiceID := req.Voice
	if voiceID == "" {
		voiceID = e.cfg.VoiceID
	}
	wsURL, err := e.streamURL(voiceID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", e.cfg.APIKey)
	conn, resp, err := e.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("elevenlabs connect: %w", ai.ClassifyHTTPStatus(providerName, resp.StatusCode, string(body)))
		}
		return nil, fmt.Errorf("elevenlabs connect: %w", ai.NewRecoverableError(providerName, err, "dial failed"))
	}

	text := strings.TrimSpace(req.Text)
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	initMsg := map[string]any{"text": " "}
	if req.Speed > 0 {
		initMsg["voice_settings"] = map[string]any{"speed": req.Speed}
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	for _, msg := range []any{
		initMsg,
		map[string]any{"text": text, "flush": true},
		map[string]any{"text": ""}, // end of input
	} {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("elevenlabs send: %w", err)
		}
	}

	frames := make(chan rtc.AudioFrame, 10)
	errc := make(chan error, 1)
	go func() {
		defer close(frames)
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		framer := rtc.NewFramer(sampleRate, 1)
		send := func(fs []rtc.AudioFrame) bool {
			for _, f := range fs {
				select {
				case frames <- f:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					errc <- fmt.Errorf("elevenlabs read: %w", err)
					return
				}
				break
			}

			var msg inbound
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Error != "" {
				errc <- ai.NewFatalError(providerName, nil, msg.Error+": "+msg.Message)
				return
			}
			if msg.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err != nil {
					e.logger.Debug("dropping undecodable audio chunk", slog.Any("error", err))
				} else if !send(framer.Write(pcm)) {
					return
				}
			}
			if msg.IsFinal {
				break
			}
		}

		if last, ok := framer.Flush(); ok {
			send([]rtc.AudioFrame{last})
		}
	}()

	return tts.NewResult(frames, errc), nil
}
