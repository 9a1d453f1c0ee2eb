package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore implements BlobStore on a local directory tree. Keys map to
// relative paths under the base directory; URLs are formed by joining the
// configured base URL with the key.
type FilesystemStore struct {
	baseDir string
	baseURL string
}

// NewFilesystemStore creates the base directory if needed.
func NewFilesystemStore(baseDir, baseURL string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &FilesystemStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Put writes the blob to disk and returns its reference.
func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte, contentType string) (Ref, error) {
	path, err := s.resolve(key)
	if err != nil {
		return Ref{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Ref{}, fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Ref{}, fmt.Errorf("write blob: %w", err)
	}
	return s.ref(key), nil
}

// Get resolves an existing key to its reference.
func (s *FilesystemStore) Get(ctx context.Context, key string) (Ref, error) {
	path, err := s.resolve(key)
	if err != nil {
		return Ref{}, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Ref{}, fmt.Errorf("blob not found: %s", key)
		}
		return Ref{}, fmt.Errorf("stat blob: %w", err)
	}
	return s.ref(key), nil
}

func (s *FilesystemStore) ref(key string) Ref {
	return Ref{Key: key, URL: s.baseURL + "/" + key}
}

// resolve joins the key under the base directory, refusing path traversal.
func (s *FilesystemStore) resolve(key string) (string, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(s.baseDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid key: path traversal detected")
	}
	return path, nil
}
