package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// File stores each key as one file under a directory. Writes go through a
// temp file and rename so a crash never leaves a torn value.
type File struct {
	dir string
}

// NewFile creates the directory if needed and returns the backend.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &File{dir: dir}, nil
}

func (s *File) path(key string) string {
	// Escape anything a key could smuggle into the path.
	return filepath.Join(s.dir, url.PathEscape(key)+".kv")
}

// Get implements Backend.
func (s *File) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements Backend.
func (s *File) Set(_ context.Context, key, value string) error {
	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete implements Backend.
func (s *File) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys, mainly for diagnostics.
func (s *File) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".kv") {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, ".kv"))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
