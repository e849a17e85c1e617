// Package onnx owns the process-wide ONNX runtime environment shared by the
// turn detector and the silero VAD.
package onnx

import (
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	once    sync.Once
	initErr error
)

// Init initializes the ONNX runtime exactly once per process. The shared
// library path comes from ONNXRUNTIME_LIB, falling back to the Homebrew
// location on macOS.
func Init() error {
	once.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// SessionOptions returns CPU options tuned for small real-time models. The
// caller owns the result and must Destroy it.
func SessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if err := options.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
		options.Destroy()
		return nil, err
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}
