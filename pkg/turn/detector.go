package turn

import (
	"context"
	"errors"
	"fmt"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
)

// ErrUnsupportedLanguage is returned when a detector has no tuned threshold
// for the requested language.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Detector interface for end-of-utterance (EOU) detection.
type Detector interface {
	// UnlikelyThreshold returns the language-specific threshold for EOU detection.
	// Returns the threshold value (0-1) or an error if language is unsupported.
	UnlikelyThreshold(language string) (float64, error)

	// SupportsLanguage returns true if the detector has a tuned threshold for this language.
	SupportsLanguage(language string) bool

	// PredictEndOfTurn returns probability (0–1) that the user has finished speaking
	// given recent chat context. Higher values indicate higher likelihood of turn completion.
	PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error)
}

// ChatContext represents the conversation history needed for turn detection.
type ChatContext struct {
	Messages []llm.Message
	Language string
}

// Gate decides whether the user's turn is over.
type Gate struct {
	Detector Detector
	// Threshold overrides the detector's language threshold when non-zero.
	Threshold float64
}

// NewGate validates threshold and returns a gate around d.
func NewGate(d Detector, threshold float64) (*Gate, error) {
	if err := vad.ValidateThreshold(threshold); err != nil {
		return nil, fmt.Errorf("turn detector: %w", err)
	}
	return &Gate{Detector: d, Threshold: threshold}, nil
}

// Decide predicts end of turn for chatCtx. It returns whether the turn is
// complete along with the raw probability.
func (g *Gate) Decide(ctx context.Context, chatCtx ChatContext) (bool, float64, error) {
	threshold := g.Threshold
	if threshold == 0 {
		t, err := g.Detector.UnlikelyThreshold(chatCtx.Language)
		if err != nil {
			return false, 0, err
		}
		threshold = t
	}

	p, err := g.Detector.PredictEndOfTurn(ctx, chatCtx)
	if err != nil {
		return false, 0, err
	}
	return p >= threshold, p, nil
}
