package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ManifestFile lists the checksums of every file in a checkpoint directory.
const ManifestFile = "checkpoint.lock.json"

// ErrChecksum is returned when a checkpoint file no longer matches its
// recorded checksum.
var ErrChecksum = errors.New("model: checksum mismatch")

type Manifest struct {
	Generated string                `json:"generated"`
	Epoch     int                   `json:"epoch,omitempty"`
	Score     float64               `json:"score,omitempty"`
	Files     map[string]FileRecord `json:"files"`
}

type FileRecord struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// WriteManifest records checksums for files (relative to dir).
func WriteManifest(dir string, m Manifest, files ...string) error {
	m.Generated = time.Now().UTC().Format(time.RFC3339)
	m.Files = make(map[string]FileRecord, len(files))

	for _, name := range files {
		sum, size, err := fileSHA256(filepath.Join(dir, name))
		if err != nil {
			return err
		}

		m.Files[name] = FileRecord{SHA256: sum, Size: size}
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("model: encode manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ManifestFile), b, 0o644); err != nil {
		return fmt.Errorf("model: write manifest: %w", err)
	}

	return nil
}

// ReadManifest loads the manifest of dir without checking files.
func ReadManifest(dir string) (Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("model: read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("model: decode manifest: %w", err)
	}

	return m, nil
}

// VerifyManifest recomputes every recorded checksum in dir.
func VerifyManifest(dir string) (Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return Manifest{}, err
	}

	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		want := m.Files[name]

		sum, size, err := fileSHA256(filepath.Join(dir, name))
		if err != nil {
			return m, err
		}

		if sum != want.SHA256 || size != want.Size {
			return m, fmt.Errorf("%w: %s", ErrChecksum, name)
		}
	}

	return m, nil
}

func fileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("model: open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()

	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("model: read file for checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
