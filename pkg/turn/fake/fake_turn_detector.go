// Package fake provides a scripted turn detector.
package fake

import (
	"context"
	"sync"

	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

// Detector returns scripted end-of-turn probabilities.
type Detector struct {
	// Probabilities are returned in order; the last one repeats.
	Probabilities []float64
	Threshold     float64
	// Err, when set, is returned by PredictEndOfTurn.
	Err error

	mu    sync.Mutex
	calls []turn.ChatContext
}

// NewFakeTurnDetector creates a detector that always reports the turn as complete.
func NewFakeTurnDetector() *Detector {
	return &Detector{Probabilities: []float64{0.95}, Threshold: 0.85}
}

// NewFakeTurnDetectorWithValues creates a detector with a fixed probability and threshold.
func NewFakeTurnDetectorWithValues(probability, threshold float64) *Detector {
	return &Detector{Probabilities: []float64{probability}, Threshold: threshold}
}

// UnlikelyThreshold returns the configured threshold.
func (d *Detector) UnlikelyThreshold(language string) (float64, error) {
	return d.Threshold, nil
}

// SupportsLanguage always returns true.
func (d *Detector) SupportsLanguage(language string) bool {
	return true
}

// PredictEndOfTurn returns the next scripted probability.
func (d *Detector) PredictEndOfTurn(ctx context.Context, chatCtx turn.ChatContext) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, chatCtx)
	if d.Err != nil {
		return 0, d.Err
	}
	if len(d.Probabilities) == 0 {
		return 1, nil
	}
	i := min(len(d.calls)-1, len(d.Probabilities)-1)
	return d.Probabilities[i], nil
}

// Calls returns every chat context seen so far.
func (d *Detector) Calls() []turn.ChatContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]turn.ChatContext, len(d.calls))
	copy(out, d.calls)
	return out
}
