// Package testutil holds skip helpers for integration tests that need assets
// outside the repository.
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    manifest := testutil.RequireONNXBundle(t)
//	    ...
//	}
package testutil

import (
	"os"
	"testing"
)

// Environment variables naming integration assets.
const (
	EnvORTLibrary  = "TAGGER_ORT_LIB"
	EnvONNXBundle  = "TAGGER_TEST_ONNX_MANIFEST"
	EnvCorpus      = "TAGGER_TEST_CORPUS"
	envORTFallback = "ORT_LIBRARY_PATH"
)

var ortSearchPaths = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
}

// RequireONNXRuntime returns the ONNX Runtime library named by
// TAGGER_ORT_LIB or ORT_LIBRARY_PATH, or the first one found in the usual
// system locations. It skips the test when none exists.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{EnvORTLibrary, envORTFallback} {
		if os.Getenv(env) != "" {
			return requireEnvFile(tb, env, "ONNX Runtime library")
		}
	}

	for _, p := range ortSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skipf("ONNX Runtime library not found; set %s", EnvORTLibrary)

	return ""
}

// RequireONNXBundle returns the exported tagger manifest named by
// TAGGER_TEST_ONNX_MANIFEST.
func RequireONNXBundle(tb testing.TB) string {
	tb.Helper()
	return requireEnvFile(tb, EnvONNXBundle, "ONNX manifest")
}

// RequireCorpus returns the token-per-line TSV corpus named by
// TAGGER_TEST_CORPUS.
func RequireCorpus(tb testing.TB) string {
	tb.Helper()
	return requireEnvFile(tb, EnvCorpus, "tagged corpus")
}

func requireEnvFile(tb testing.TB, env, what string) string {
	tb.Helper()

	p := os.Getenv(env)
	if p == "" {
		tb.Skipf("%s not set", env)
		return ""
	}

	if _, err := os.Stat(p); err != nil {
		tb.Skipf("%s not available at %s=%q: %v", what, env, p, err)
		return ""
	}

	return p
}
