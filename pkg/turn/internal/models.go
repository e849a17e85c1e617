// Package internal describes the published turn-detector model revisions.
package internal

import "path/filepath"

// ModelInfo holds metadata for a turn-detection model revision.
type ModelInfo struct {
	Name     string // "english", "multilingual"
	Repo     string
	Revision string
	Size     int64
	Files    []string
}

var (
	EnglishModel = ModelInfo{
		Name:     "english",
		Repo:     "livekit/turn-detector",
		Revision: "v1.2.2-en",
		Size:     66 * 1024 * 1024,
		Files: []string{
			"onnx/model_q8.onnx",
			"tokenizer.json",
			"languages.json",
		},
	}

	MultilingualModel = ModelInfo{
		Name:     "multilingual",
		Repo:     "livekit/turn-detector",
		Revision: "v0.3.0-intl",
		Size:     281 * 1024 * 1024,
		Files: []string{
			"onnx/model_q8.onnx",
			"tokenizer.json",
			"languages.json",
		},
	}

	// AllModels enumerates every model the downloader must handle.
	AllModels = []ModelInfo{EnglishModel, MultilingualModel}
)

// FileHashes maps revision/filename to the expected SHA-256. Files without an
// entry are only checked for existence.
var FileHashes = map[string]string{
	"v1.2.2-en/onnx/model_q8.onnx": "fdd695a99bda01155fb0b5ce71d34cb9fd3902c62496db7a6c2c7bdeac310ac7",
	"v1.2.2-en/tokenizer.json":     "c8219a662de786c94771323c3500377970f5eaa3afbeaef9390c9a51db9f7884",
}

// Lookup finds a model by name.
func Lookup(name string) (ModelInfo, bool) {
	for _, m := range AllModels {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// GetModelPath returns the directory where a revision is stored.
func GetModelPath(basePath, revision string) string {
	return filepath.Join(basePath, "turn-detector", revision)
}

// GetModelFilePath returns the path to a specific file for a revision.
func GetModelFilePath(basePath, revision, filename string) string {
	return filepath.Join(GetModelPath(basePath, revision), filename)
}
