package turn

import (
	"fmt"
	"os"
)

// DetectorConfig holds configuration for creating turn detectors.
type DetectorConfig struct {
	Model     string // "english" or "multilingual"
	ModelPath string // defaults to DefaultModelPath
	RemoteURL string // remote inference endpoint, optional
}

// NewDetector creates a turn detector based on the provided configuration.
// If RemoteURL (or LIVEKIT_REMOTE_EOT_URL) is set, the local detector becomes
// the fallback of a RemoteDetector.
func NewDetector(config DetectorConfig) (Detector, error) {
	remoteURL := config.RemoteURL
	if remoteURL == "" {
		remoteURL = os.Getenv("LIVEKIT_REMOTE_EOT_URL")
	}

	if config.Model == "" {
		config.Model = "english"
	}

	switch config.Model {
	case "english", "multilingual":
	default:
		return nil, fmt.Errorf("invalid model name: %s (supported: english|multilingual)", config.Model)
	}

	local, err := NewONNXDetector(config.Model, config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX detector: %w", err)
	}

	if remoteURL != "" {
		return NewRemoteDetector(remoteURL, local), nil
	}
	return local, nil
}
