package imagegen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStore writes images into a directory that the HTTP server exposes
// under BaseURL.
type LocalStore struct {
	dir     string
	baseURL string
	now     func() time.Time
}

// NewLocalStore creates dir if needed. baseURL is the public prefix of the
// directory, e.g. "/images" or "https://cdn.example.com/images".
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("imagegen: image directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagegen: could not create %s: %w", dir, err)
	}
	if baseURL == "" {
		baseURL = "/images"
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// Dir returns the directory images are written to.
func (s *LocalStore) Dir() string { return s.dir }

// Save writes img under a timestamped unique name and returns its public URL.
func (s *LocalStore) Save(_ context.Context, img Image) (string, error) {
	format := img.Format
	if format == "" {
		format = "png"
	}
	name := fmt.Sprintf("%s_%s.%s", s.now().UTC().Format("20060102_150405"), uuid.NewString()[:8], format)

	// Write to a temp file first so a reader never sees a partial image.
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("imagegen: create temp file: %w", err)
	}
	if _, err := tmp.Write(img.Bytes); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("imagegen: write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("imagegen: close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("imagegen: rename image: %w", err)
	}
	return s.baseURL + "/" + name, nil
}
