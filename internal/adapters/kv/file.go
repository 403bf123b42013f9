package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

const storeFileName = "store.json"

// File implements ports.DurableStore with a single JSON document on disk.
// The whole document is rewritten on every SetItem.
type File struct {
	dir string

	mu    sync.Mutex
	items map[string]string
}

// NewFile creates a file store rooted at dir.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// GetItem returns the value under key.
func (f *File) GetItem(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return "", false, err
	}
	v, ok := f.items[key]
	return v, ok, nil
}

// SetItem stores value under key and persists the document atomically.
func (f *File) SetItem(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return err
	}
	prev, had := f.items[key]
	f.items[key] = value
	if err := f.saveLocked(); err != nil {
		if had {
			f.items[key] = prev
		} else {
			delete(f.items, key)
		}
		return err
	}
	return nil
}

// Path returns the full path to the store file.
func (f *File) Path() string {
	return filepath.Join(f.dir, storeFileName)
}

func (f *File) loadLocked() error {
	if f.items != nil {
		return nil
	}

	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			f.items = make(map[string]string)
			return nil
		}
		return fmt.Errorf("read store: %w", err)
	}

	items := make(map[string]string)
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode store: %w", err)
	}
	f.items = items
	return nil
}

// saveLocked writes to a temp file and renames it over the store.
func (f *File) saveLocked() error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(f.items, "", "  ")
	if err != nil {
		return err
	}

	path := f.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
