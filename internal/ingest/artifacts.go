package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Artifacts stores the per-invoice PDFs cut from a combined document.
type Artifacts interface {
	// Write creates name and fills it with fn. The file is closed on every
	// path and removed when fn or the close fails. It returns the stored
	// path.
	Write(name string, fn func(w io.Writer) error) (string, error)

	// Open returns a reader for a stored path.
	Open(path string) (io.ReadCloser, error)

	// Remove deletes a stored path.
	Remove(path string) error
}

// LocalArtifacts implements Artifacts in a directory.
type LocalArtifacts struct {
	basePath string
}

// NewLocalArtifacts creates the directory if needed.
func NewLocalArtifacts(basePath string) (*LocalArtifacts, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &LocalArtifacts{basePath: basePath}, nil
}

// Write implements Artifacts. Stored paths include the base directory.
func (l *LocalArtifacts) Write(name string, fn func(w io.Writer) error) (path string, err error) {
	path = filepath.Join(l.basePath, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating artifact: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing artifact: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
			path = ""
		}
	}()

	if err := fn(f); err != nil {
		return path, fmt.Errorf("writing artifact %s: %w", name, err)
	}
	return path, nil
}

// Open implements Artifacts. Only files directly inside the base directory
// can be opened.
func (l *LocalArtifacts) Open(path string) (io.ReadCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	return f, nil
}

// Remove implements Artifacts.
func (l *LocalArtifacts) Remove(path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing artifact: %w", err)
	}
	return nil
}

func (l *LocalArtifacts) resolve(path string) (string, error) {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid artifact path %q", path)
	}
	return filepath.Join(l.basePath, name), nil
}
