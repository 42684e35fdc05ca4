// Package file is a local key-value store backed by one JSON document on
// disk, the process equivalent of browser local storage.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// KV stores string values keyed by name in a JSON object file. Writes go to a
// temp file that is renamed over the original.
type KV struct {
	path string
	mu   sync.Mutex
}

// NewKV returns a store at path. The file is created on first Put.
func NewKV(path string) *KV {
	return &KV{path: path}
}

// Get returns the value for key or domain.ErrNotFound.
func (k *KV) Get(_ context.Context, key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	doc, err := k.read()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, fmt.Errorf("file: get %s: %w", key, domain.ErrNotFound)
	}
	return []byte(v), nil
}

// Put sets key to value.
func (k *KV) Put(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	doc, err := k.read()
	if err != nil {
		// A corrupt document is replaced rather than blocking every write.
		doc = map[string]string{}
	}
	doc[key] = string(value)
	return k.write(doc)
}

func (k *KV) read() (map[string]string, error) {
	raw, err := os.ReadFile(k.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read %s: %w", k.path, err)
	}
	doc := map[string]string{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("file: decode %s: %w", k.path, err)
	}
	return doc, nil
}

func (k *KV) write(doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode: %w", err)
	}
	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".coinpick-*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), k.path); err != nil {
		return fmt.Errorf("file: replace %s: %w", k.path, err)
	}
	return nil
}

var _ domain.KVStore = (*KV)(nil)
