package fake

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
)

func TestSynthesizeFrameCount(t *testing.T) {
	is := is.New(t)

	synth := NewFakeTTS()
	res, err := synth.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "Goodbye!"})
	is.NoErr(err)

	count := 0
	for f := range res.Frames() {
		is.Equal(f.SampleRate, SampleRate)
		is.Equal(len(f.Data), SampleRate/100*2)
		count++
	}
	is.NoErr(res.Err())
	is.Equal(count, len("Goodbye!")*FramesPerChar)
	is.Equal(synth.Texts(), []string{"Goodbye!"})
}

func TestSynthesizeStopsOnCancel(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := NewFakeTTS().Synthesize(ctx, tts.SynthesizeRequest{Text: string(make([]byte, 500))})
	is.NoErr(err)

	<-res.Frames()
	cancel()
	for range res.Frames() {
	}
}
