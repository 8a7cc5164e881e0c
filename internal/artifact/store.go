// Package artifact persists screenshots on local disk and, optionally, in S3.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kuitang/exambuilder-verify/internal/harness"
	"github.com/kuitang/exambuilder-verify/internal/obs"
)

var (
	_ harness.ArtifactStore = (*FileStore)(nil)
	_ harness.ArtifactStore = (*S3Store)(nil)
	_ harness.ArtifactStore = MultiStore(nil)
)

// ErrInvalidName is returned for artifact names that are empty or contain a path.
var ErrInvalidName = errors.New("artifact: invalid name")

// FileStore writes artifacts into a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("artifact: output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the output directory.
func (s *FileStore) Dir() string { return s.dir }

// Save writes png to <dir>/<name> atomically and returns the file path.
// An existing file of the same name is replaced.
func (s *FileStore) Save(_ context.Context, name string, png []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("artifact: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(png); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("artifact: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("artifact: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("artifact: rename %s: %w", name, err)
	}
	return path, nil
}

// MultiStore saves to every store in order. The first store is primary: its
// location is returned and its failure fails the save. Failures of the others
// are logged.
type MultiStore []harness.ArtifactStore

func (m MultiStore) Save(ctx context.Context, name string, png []byte) (string, error) {
	if len(m) == 0 {
		return "", errors.New("artifact: no stores configured")
	}
	location, err := m[0].Save(ctx, name, png)
	if err != nil {
		return "", err
	}
	for _, mirror := range m[1:] {
		if mloc, err := mirror.Save(ctx, name, png); err != nil {
			obs.From(ctx).Warn("artifact.mirror_failed", "artifact", name, "error", err)
		} else {
			obs.From(ctx).Debug("artifact.mirrored", "artifact", name, "location", mloc)
		}
	}
	return location, nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
