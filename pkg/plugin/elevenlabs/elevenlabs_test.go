package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func newServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/text-to-speech/{voice_id}/stream-input"
}

func TestSynthesizeStreamsFrames(t *testing.T) {
	is := is.New(t)

	type capture struct {
		path, query string
		texts       []string
	}
	captured := make(chan capture, 1)
	base := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		c := capture{path: r.URL.Path, query: r.URL.RawQuery}
		defer func() { captured <- c }()
		for i := 0; i < 3; i++ {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			c.texts = append(c.texts, msg["text"].(string))
		}
		// 15 ms of audio split across two chunks.
		chunk := base64.StdEncoding.EncodeToString(make([]byte, 24000/1000*15*2))
		conn.WriteJSON(map[string]any{"audio": chunk})
		conn.WriteJSON(map[string]any{"audio": chunk})
		conn.WriteJSON(map[string]any{"isFinal": true})
	})

	synth, err := New(Config{APIKey: "secret", VoiceID: "voice-1", WSBase: base})
	is.NoErr(err)

	res, err := synth.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "Goodbye!"})
	is.NoErr(err)

	var frames []rtc.AudioFrame
	for f := range res.Frames() {
		frames = append(frames, f)
	}
	is.NoErr(res.Err())
	is.Equal(len(frames), 3) // 30 ms → three 10 ms frames
	is.Equal(frames[0].SampleRate, 24000)

	c := <-captured
	is.Equal(c.texts, []string{" ", "Goodbye! ", ""})
	is.Equal(c.path, "/v1/text-to-speech/voice-1/stream-input")
	is.True(strings.Contains(c.query, "model_id=eleven_flash_v2_5"))
	is.True(strings.Contains(c.query, "output_format=pcm_24000"))
}

func TestSynthesizeServerError(t *testing.T) {
	is := is.New(t)

	base := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		var msg json.RawMessage
		conn.ReadJSON(&msg)
		conn.WriteJSON(map[string]any{"error": "quota_exceeded", "message": "out of characters"})
	})

	synth, err := New(Config{APIKey: "secret", WSBase: base})
	is.NoErr(err)
	res, err := synth.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "hello"})
	is.NoErr(err)
	for range res.Frames() {
	}
	is.True(ai.IsFatal(res.Err()))
}

func TestSynthesizeBadKey(t *testing.T) {
	is := is.New(t)

	base := newServer(t, func(conn *websocket.Conn, r *http.Request) {})
	synth, err := New(Config{APIKey: "wrong", WSBase: base})
	is.NoErr(err)

	_, err = synth.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "hello"})
	is.True(ai.IsFatal(err))
}

func TestFactory(t *testing.T) {
	is := is.New(t)
	t.Setenv("ELEVENLABS_API_KEY", "")
	t.Setenv("ELEVENLABS_VOICE_ID", "")

	_, err := newElevenLabsTTS(map[string]any{})
	is.True(errors.Is(err, ai.ErrMissingAPIKey))

	t.Setenv("ELEVENLABS_API_KEY", "k")
	instance, err := newElevenLabsTTS(map[string]any{})
	is.NoErr(err)
	is.Equal(instance.(*TTS).cfg.VoiceID, DefaultVoiceID)
	is.Equal(instance.(*TTS).cfg.Model, DefaultModel)
}
