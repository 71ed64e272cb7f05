package utils

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// EnsureUploadDir creates the uploads directory if it doesn't exist
func EnsureUploadDir() error {
	return os.MkdirAll("uploads", os.ModePerm)
}

// GetUploadPath returns the full path for a file inside the uploads directory
func GetUploadPath(filename string) string {
	return filepath.Join("uploads", filename)
}

// LocalPhotoStore keeps photos on local disk. Used when R2 is not
// configured (dev) and in tests.
type LocalPhotoStore struct {
	Dir string
}

func (s LocalPhotoStore) path(key string) string {
	// Keys are slash-separated object keys; keep them inside Dir.
	clean := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	return filepath.Join(s.Dir, clean)
}

func (s LocalPhotoStore) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	dest := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return "/" + filepath.ToSlash(dest), nil
}

func (s LocalPhotoStore) Load(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(s.path(key))
}
