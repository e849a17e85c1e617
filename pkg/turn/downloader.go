package turn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/chriscow/livekit-voice-agent/pkg/turn/internal"
)

// DefaultHubURL is the model hub the downloader fetches from.
const DefaultHubURL = "https://huggingface.co"

// Downloader fetches turn detection models and their tokenizer files.
type Downloader struct {
	modelPath string
	hubURL    string
	client    *http.Client
	logger    *slog.Logger
}

// NewDownloader creates a new model downloader rooted at modelPath.
func NewDownloader(modelPath string) *Downloader {
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}

	return &Downloader{
		modelPath: modelPath,
		hubURL:    DefaultHubURL,
		client:    &http.Client{},
		logger:    slog.Default().With(slog.String("component", "turn-downloader")),
	}
}

// WithHubURL points the downloader at a different hub, mainly for tests.
func (d *Downloader) WithHubURL(url string) *Downloader {
	d.hubURL = url
	return d
}

// DownloadAll downloads every known model.
func (d *Downloader) DownloadAll(ctx context.Context) error {
	for _, model := range internal.AllModels {
		if err := d.DownloadModel(ctx, model.Name); err != nil {
			return err
		}
	}
	return nil
}

// DownloadModel downloads a model's files, skipping those already present
// and valid.
func (d *Downloader) DownloadModel(ctx context.Context, name string) error {
	model, ok := internal.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown model: %s", name)
	}

	modelDir := internal.GetModelPath(d.modelPath, model.Revision)
	for _, filename := range model.Files {
		filePath := filepath.Join(modelDir, filename)
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return fmt.Errorf("failed to create directories for %s: %w", filename, err)
		}

		if d.isValidFile(filePath, model.Revision, filename) {
			d.logger.Debug("model file present", slog.String("file", filename))
			continue
		}

		d.logger.Info("downloading model file",
			slog.String("model", model.Name),
			slog.String("file", filename))
		if err := d.downloadFile(ctx, model, filename, filePath); err != nil {
			os.Remove(filePath)
			return fmt.Errorf("failed to download %s/%s: %w", model.Name, filename, err)
		}
	}

	d.logger.Info("model ready", slog.String("model", model.Name), slog.String("dir", modelDir))
	return nil
}

func (d *Downloader) downloadFile(ctx context.Context, model internal.ModelInfo, filename, destination string) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", d.hubURL, model.Repo, model.Revision, filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	tmp := destination + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if want := internal.FileHashes[model.Revision+"/"+filename]; want != "" && !verifyFileHash(tmp, want) {
		os.Remove(tmp)
		return fmt.Errorf("checksum mismatch for %s", filename)
	}
	return os.Rename(tmp, destination)
}

func (d *Downloader) isValidFile(filePath, revision, filename string) bool {
	info, err := os.Stat(filePath)
	if err != nil || info.Size() == 0 {
		return false
	}

	want := internal.FileHashes[revision+"/"+filename]
	if want == "" {
		return true
	}
	return verifyFileHash(filePath, want)
}

func verifyFileHash(filePath, expectedHash string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false
	}
	return hex.EncodeToString(hasher.Sum(nil)) == expectedHash
}

// ModelStatus reports which models are fully downloaded.
func (d *Downloader) ModelStatus() map[string]bool {
	status := make(map[string]bool)
	for _, model := range internal.AllModels {
		complete := true
		for _, filename := range model.Files {
			filePath := internal.GetModelFilePath(d.modelPath, model.Revision, filename)
			if !d.isValidFile(filePath, model.Revision, filename) {
				complete = false
				break
			}
		}
		status[model.Name] = complete
	}
	return status
}
