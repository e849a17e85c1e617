package fake

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

func TestScriptedProbabilities(t *testing.T) {
	is := is.New(t)

	d := &Detector{Probabilities: []float64{0.1, 0.9}}
	want := []float64{0.1, 0.9, 0.9}
	for _, w := range want {
		p, err := d.PredictEndOfTurn(context.Background(), turn.ChatContext{Language: "en"})
		is.NoErr(err)
		is.Equal(p, w)
	}
	is.Equal(len(d.Calls()), 3)
}
