package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	DefaultSpeechModel = string(openai.TTSModel1)
	DefaultVoice       = string(openai.VoiceAlloy)

	// speechSampleRate is the rate of the "pcm" response format.
	speechSampleRate = 24000
)

// TTS implements tts.Synthesizer with raw PCM output.
type TTS struct {
	client *openai.Client
	model  string
	voice  string
}

// NewTTS creates a speech synthesis backend.
func NewTTS(cfg Config) *TTS {
	t := &TTS{client: newClient(cfg), model: cfg.Model, voice: cfg.Voice}
	if t.model == "" {
		t.model = DefaultSpeechModel
	}
	if t.voice == "" {
		t.voice = DefaultVoice
	}
	return t
}

// Synthesize requests speech and streams the response as 10 ms frames.
func (o *TTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*tts.Result, error) {
	voice := req.Voice
	if voice == "" {
		voice = o.voice
	}

	speechReq := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}
	if req.Speed > 0 {
		speechReq.Speed = float64(req.Speed)
	}

	resp, err := o.client.CreateSpeech(ctx, speechReq)
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", classify(err))
	}

	frames := make(chan rtc.AudioFrame, 10)
	errc := make(chan error, 1)
	go func() {
		defer close(frames)
		defer resp.Close()

		framer := rtc.NewFramer(speechSampleRate, 1)
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

		buf := make([]byte, 4096)
		for {
			n, err := resp.Read(buf)
			if n > 0 && !send(framer.Write(buf[:n])) {
				return
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errc <- fmt.Errorf("read speech: %w", err)
				return
			}
		}
		if last, ok := framer.Flush(); ok {
			send([]rtc.AudioFrame{last})
		}
	}()

	return tts.NewResult(frames, errc), nil
}

// Capabilities returns the synthesizer's capabilities.
func (o *TTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		Streaming:  true,
		SampleRate: speechSampleRate,
		Voices:     []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
	}
}
