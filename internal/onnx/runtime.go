package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/example/go-tagger/internal/config"
)

// Environment variables consulted for the ORT shared library, in order.
const (
	EnvLibrary    = "TAGGER_ORT_LIB"
	EnvORTLibrary = "ORT_LIBRARY_PATH"
	EnvORTVersion = "ORT_VERSION"
)

// SearchPaths are probed when neither config nor environment names a library.
var SearchPaths = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
}

type RuntimeInfo struct {
	LibraryPath string
	Version     string
	// Source names where LibraryPath came from: "config", an environment
	// variable, or "search".
	Source string
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var (
	bootstrapOnce sync.Once
	bootstrapInfo RuntimeInfo
	errBootstrap  error
)

// Bootstrap runs DetectRuntime once per process. Later calls return the
// cached result and ignore cfg.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	bootstrapOnce.Do(func() {
		bootstrapInfo, errBootstrap = DetectRuntime(cfg)
	})

	return bootstrapInfo, errBootstrap
}

// DetectRuntime locates the ONNX Runtime library. An explicitly named path
// that does not exist is an error; the search list is only used when nothing
// was named.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	info := RuntimeInfo{Version: "unknown"}

	switch {
	case cfg.ORTLibraryPath != "":
		info.LibraryPath, info.Source = cfg.ORTLibraryPath, "config"
	case os.Getenv(EnvLibrary) != "":
		info.LibraryPath, info.Source = os.Getenv(EnvLibrary), EnvLibrary
	case os.Getenv(EnvORTLibrary) != "":
		info.LibraryPath, info.Source = os.Getenv(EnvORTLibrary), EnvORTLibrary
	default:
		for _, p := range SearchPaths {
			if _, err := os.Stat(p); err == nil {
				info.LibraryPath, info.Source = p, "search"
				break
			}
		}
	}

	if info.LibraryPath == "" {
		info.LibraryPath = "not found"
		return info, fmt.Errorf("onnx: runtime library not found; set %s or runtime.ort_library_path", EnvLibrary)
	}

	if _, err := os.Stat(info.LibraryPath); err != nil {
		return info, fmt.Errorf("onnx: runtime library from %s: %w", info.Source, err)
	}

	for _, v := range []string{cfg.ORTVersion, os.Getenv(EnvORTVersion), inferVersionFromPath(info.LibraryPath)} {
		if v != "" {
			info.Version = v
			break
		}
	}

	return info, nil
}

// ErrNoRuntime is returned by runners on platforms without purego support.
var ErrNoRuntime = errors.New("onnx: native runtime unavailable on this platform")

func inferVersionFromPath(path string) string {
	if m := versionPattern.FindStringSubmatch(filepath.Base(path)); len(m) == 2 {
		return m[1]
	}

	return ""
}
