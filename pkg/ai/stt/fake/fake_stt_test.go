package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func frame() rtc.AudioFrame {
	return rtc.FromSamples(make([]int16, 160), 16000, 1)
}

func drain(ch <-chan stt.SpeechEvent) []stt.SpeechEvent {
	var events []stt.SpeechEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamEmitsFinalAfterFrames(t *testing.T) {
	is := is.New(t)

	rec := NewFakeSTT("Hello world")
	rec.FinalAfter = 15
	stream, err := rec.NewStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Language: "en"})
	is.NoErr(err)

	for i := 0; i < 20; i++ {
		is.NoErr(stream.Push(frame()))
	}
	is.NoErr(stream.CloseSend())

	events := drain(stream.Events())
	is.Equal(len(events), 2) // one interim at frame 10, one final at frame 15
	is.Equal(events[0].Type, stt.SpeechEventInterim)
	is.Equal(events[1].Type, stt.SpeechEventFinal)
	is.Equal(events[1].Text, "Hello world")
	is.Equal(events[1].Language, "en")
	is.Equal(rec.Streams(), 1)
}

func TestCloseSendFlushesPendingFinal(t *testing.T) {
	is := is.New(t)

	stream, err := NewFakeSTT("").NewStream(context.Background(), stt.StreamConfig{})
	is.NoErr(err)
	is.NoErr(stream.Push(frame()))
	is.NoErr(stream.CloseSend())
	is.NoErr(stream.CloseSend()) // idempotent

	events := drain(stream.Events())
	is.Equal(len(events), 1)
	is.Equal(events[0].Text, DefaultTranscript)

	is.True(errors.Is(stream.Push(frame()), ErrStreamClosed))
}

func TestNewStreamError(t *testing.T) {
	is := is.New(t)

	want := errors.New("no credentials")
	rec := &Recognizer{StreamErr: want}
	_, err := rec.NewStream(context.Background(), stt.StreamConfig{})
	is.Equal(err, want)
}
