package turn

import (
	"context"
	"path/filepath"
	"sync"
)

// PrepareOptions selects which models Prepare fetches and where.
type PrepareOptions struct {
	ModelPath string
	// Models defaults to every known model.
	Models []string
	// HubURL overrides DefaultHubURL.
	HubURL string
}

type preparation struct {
	once sync.Once
	err  error
}

var (
	prepareMu sync.Mutex
	prepared  = map[string]*preparation{}
)

// Prepare downloads turn detector models ahead of time. It runs at most once
// per model directory and model name; later calls return the first result.
func Prepare(ctx context.Context, opts PrepareOptions) error {
	modelPath := opts.ModelPath
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	models := opts.Models
	if len(models) == 0 {
		models = []string{"english", "multilingual"}
	}

	d := NewDownloader(modelPath)
	if opts.HubURL != "" {
		d.WithHubURL(opts.HubURL)
	}

	for _, name := range models {
		p := preparationFor(filepath.Join(modelPath, name))
		p.once.Do(func() {
			p.err = d.DownloadModel(ctx, name)
		})
		if p.err != nil {
			return p.err
		}
	}
	return nil
}

func preparationFor(key string) *preparation {
	prepareMu.Lock()
	defer prepareMu.Unlock()
	p, ok := prepared[key]
	if !ok {
		p = &preparation{}
		prepared[key] = p
	}
	return p
}
