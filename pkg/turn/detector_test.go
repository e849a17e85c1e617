package turn

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

// stubDetector is a simple test implementation.
type stubDetector struct {
	probability float64
	threshold   float64
	supported   bool
	err         error
	calls       int
}

func (s *stubDetector) UnlikelyThreshold(language string) (float64, error) {
	if !s.supported {
		return 0, ErrUnsupportedLanguage
	}
	return s.threshold, nil
}

func (s *stubDetector) SupportsLanguage(language string) bool {
	return s.supported
}

func (s *stubDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	s.calls++
	return s.probability, s.err
}

func TestGateDecide(t *testing.T) {
	chat := ChatContext{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "how can I lower my bill"}},
		Language: "en",
	}

	tests := []struct {
		name      string
		detector  *stubDetector
		threshold float64
		wantDone  bool
		wantErr   bool
	}{
		{"above explicit threshold", &stubDetector{probability: 0.9, supported: true}, 0.8, true, false},
		{"below explicit threshold", &stubDetector{probability: 0.5, supported: true}, 0.8, false, false},
		{"at threshold", &stubDetector{probability: 0.8, supported: true}, 0.8, true, false},
		{"language threshold fallback", &stubDetector{probability: 0.2, threshold: 0.1, supported: true}, 0, true, false},
		{"unsupported language", &stubDetector{probability: 0.9}, 0, false, true},
		{"prediction failure", &stubDetector{supported: true, err: errors.New("boom")}, 0.8, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			gate := &Gate{Detector: tt.detector, Threshold: tt.threshold}
			done, p, err := gate.Decide(context.Background(), chat)
			if tt.wantErr {
				is.True(err != nil)
				return
			}
			is.NoErr(err)
			is.Equal(done, tt.wantDone)
			is.Equal(p, tt.detector.probability)
		})
	}
}

func TestNewGateRejectsThreshold(t *testing.T) {
	is := is.New(t)

	_, err := NewGate(&stubDetector{}, 1.5)
	is.True(err != nil)

	gate, err := NewGate(&stubDetector{}, 0.8)
	is.NoErr(err)
	is.Equal(gate.Threshold, 0.8)
}
