package trip

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FlatStorage is a directory of key files, the layout of the legacy app's
// browser storage dump. Each key is one file holding the raw value.
type FlatStorage struct {
	basePath string
}

// NewFlatStorage creates a FlatStorage rooted at basePath, creating the directory if needed
func NewFlatStorage(basePath string) (*FlatStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &FlatStorage{
		basePath: basePath,
	}, nil
}

// path maps a key to its file, refusing keys that would escape the directory
func (l *FlatStorage) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(l.basePath, key), nil
}

// Get reads the value for a key. A missing key returns an error wrapping fs.ErrNotExist.
func (l *FlatStorage) Get(key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}
