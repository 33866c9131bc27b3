package debugger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-yaml"
)

// Store persists breakpoint definitions across attaches
type Store interface {
	Load() ([]Location, error)
	Save(locations []Location) error
}

// MemoryStore keeps definitions for the life of the process
type MemoryStore struct {
	mu        sync.Mutex
	locations []Location
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() ([]Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Location(nil), m.locations...), nil
}

func (m *MemoryStore) Save(locations []Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append([]Location(nil), locations...)
	return nil
}

// FileStore keeps definitions in a YAML file
type FileStore struct {
	Path string
	mu   sync.Mutex
}

type breakpointFile struct {
	Breakpoints []Location `yaml:"breakpoints"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load returns no definitions when the file does not exist yet
func (f *FileStore) Load() ([]Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read breakpoints: %w", err)
	}

	var file breakpointFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse breakpoints %s: %w", f.Path, err)
	}
	return file.Breakpoints, nil
}

// Save replaces the file atomically
func (f *FileStore) Save(locations []Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(breakpointFile{Breakpoints: locations})
	if err != nil {
		return fmt.Errorf("encode breakpoints: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("write breakpoints: %w", err)
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write breakpoints: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("write breakpoints: %w", err)
	}
	return nil
}
