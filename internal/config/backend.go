package config

import (
	"fmt"
	"strings"
)

const (
	BackendLookup = "lookup"
	BackendONNX   = "onnx"
)

// NormalizeBackend canonicalizes an emission model backend name. Empty
// selects the built-in lookup model.
func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendLookup
	}

	switch backend {
	case BackendLookup, BackendONNX:
		return backend, nil
	case "native", "builtin":
		return BackendLookup, nil
	default:
		return "", fmt.Errorf("invalid backend %q (expected %s|%s)", raw, BackendLookup, BackendONNX)
	}
}
