// Package store provides local blob storage for uploaded videos, extracted
// audio, and assembled clips. A Store is rooted at one directory; locations
// are filenames under that root.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type BlobStore interface {
	Put(name string, r io.Reader) (location string, size int64, err error)
	Open(location string) (*os.File, error)
	Stat(location string) (os.FileInfo, error)
	Remove(location string) error
	Path(location string) (string, error)
}

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Put writes the reader's contents to a new blob named name. Writes go to a
// temp file first so a failed upload never leaves a partial blob behind.
func (s *Store) Put(name string, r io.Reader) (string, int64, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("failed to finalize blob: %w", err)
	}
	return name, size, nil
}

func (s *Store) Open(location string) (*os.File, error) {
	path, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (s *Store) Stat(location string) (os.FileInfo, error) {
	path, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	return os.Stat(path)
}

func (s *Store) Remove(location string) error {
	path, err := s.resolve(location)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Path returns the absolute filesystem path for a location, for handing to
// external tools like ffmpeg.
func (s *Store) Path(location string) (string, error) {
	return s.resolve(location)
}

func (s *Store) resolve(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("empty blob location")
	}
	path := filepath.Join(s.root, location)
	if path != s.root && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("blob location escapes store root: %s", location)
	}
	return path, nil
}
