package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeMu   sync.Mutex
	runtimeErr  error
	runtimeDone bool
)

// EnsureRuntime initializes the process-wide ONNX Runtime environment once.
// The first outcome is sticky: a failed initialization is reported to every
// later caller so each model load fails on its own instead of retrying.
//
// Parameters:
//   - libPath: path to the onnxruntime shared library, empty for the platform default
//
// Returns:
//   - error: initialization error, if any
func EnsureRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeDone {
		return runtimeErr
	}
	runtimeDone = true

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		runtimeErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return runtimeErr
}

// ShutdownRuntime destroys the environment. Sessions must be closed first.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	runtimeDone = false
	runtimeErr = nil
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
