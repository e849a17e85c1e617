package silero

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
)

// Downloader fetches the Silero model into place.
type Downloader struct {
	// Path is the destination file. A "model_path" parameter overrides it;
	// with neither, DefaultModelPath is used at call time.
	Path   string
	URL    string
	Client *http.Client
}

// NewDownloader returns a downloader for the published model.
func NewDownloader(path string) *Downloader {
	return &Downloader{Path: path, URL: ModelURL, Client: http.DefaultClient}
}

// Download fetches the model to where a detector built from params will look
// for it, unless a non-empty file is already present.
func (d *Downloader) Download(ctx context.Context, params map[string]any) error {
	path := d.Path
	if dir := plugin.Params(params).String("model_path", ""); dir != "" {
		path = ModelFile(dir)
	}
	if path == "" {
		path = DefaultModelPath()
	}

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		slog.Debug("silero model present", slog.String("model_path", path))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	slog.Info("downloading silero model", slog.String("url", d.URL), slog.String("model_path", path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download from %s: %w", d.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download from %s: HTTP %d", d.URL, resp.StatusCode)
	}

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", tmp, err)
	}
	n, err := io.Copy(file, resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write file %s: %w", tmp, err)
	}
	if n == 0 {
		os.Remove(tmp)
		return fmt.Errorf("empty model from %s", d.URL)
	}
	return os.Rename(tmp, path)
}
