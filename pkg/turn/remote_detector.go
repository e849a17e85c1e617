package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

// RemoteDetector implements turn detection using a remote HTTP endpoint.
type RemoteDetector struct {
	endpoint   string
	httpClient *http.Client
	fallback   Detector
	logger     *slog.Logger
}

// NewRemoteDetector creates a new remote turn detector. fallback may be nil.
func NewRemoteDetector(endpoint string, fallback Detector) *RemoteDetector {
	return &RemoteDetector{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		fallback:   fallback,
		logger:     slog.Default().With(slog.String("component", "turn-remote")),
	}
}

// RemoteRequest is the payload sent to the remote endpoint.
type RemoteRequest struct {
	Messages []llm.Message `json:"messages"`
	Language string        `json:"language,omitempty"`
}

// RemoteResponse is the remote endpoint's reply.
type RemoteResponse struct {
	Probability float64 `json:"eou_probability"`
	Error       string  `json:"error,omitempty"`
}

// UnlikelyThreshold delegates to the fallback, or uses fixed defaults.
func (d *RemoteDetector) UnlikelyThreshold(language string) (float64, error) {
	if d.fallback != nil {
		return d.fallback.UnlikelyThreshold(language)
	}

	switch language {
	case "en-US", "en-GB", "en":
		return 0.85, nil
	default:
		return 0.80, nil
	}
}

// SupportsLanguage delegates to the fallback; without one every language is accepted.
func (d *RemoteDetector) SupportsLanguage(language string) bool {
	if d.fallback != nil {
		return d.fallback.SupportsLanguage(language)
	}
	return true
}

// PredictEndOfTurn asks the remote endpoint, falling back to the local
// detector on any failure.
func (d *RemoteDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	body, err := json.Marshal(RemoteRequest{Messages: chatCtx.Messages, Language: chatCtx.Language})
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "livekit-voice-agent/turn-detector")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg))
	}

	var response RemoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("failed to decode response: %w", err))
	}
	if response.Error != "" {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("remote error: %s", response.Error))
	}
	if response.Probability < 0 || response.Probability > 1 {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("invalid probability: %f", response.Probability))
	}

	return response.Probability, nil
}

func (d *RemoteDetector) fallbackPredict(ctx context.Context, chatCtx ChatContext, cause error) (float64, error) {
	if d.fallback == nil {
		return 0, fmt.Errorf("remote inference failed and no fallback available: %w", cause)
	}

	d.logger.Warn("remote turn detection failed, using fallback", slog.Any("error", cause))
	return d.fallback.PredictEndOfTurn(ctx, chatCtx)
}

// Close releases the fallback detector, if it holds resources.
func (d *RemoteDetector) Close() error {
	if c, ok := d.fallback.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
