package calibration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/filelock"
)

var (
	_ Store = &MemoryStore{}
	_ Store = &FileStore{}
)

// MemoryStore keeps ratios for the lifetime of the process.
type MemoryStore struct {
	mu     sync.Mutex
	ratios map[string]Ratio
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ratios: make(map[string]Ratio)}
}

func (s *MemoryStore) Save(key string, r Ratio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratios[key] = r
	return nil
}

func (s *MemoryStore) Load(key string) (Ratio, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratios[key]
	return r, ok, nil
}

// storedRatio is one entry of the calibration file.
type storedRatio struct {
	Ratio
	SavedAt time.Time `json:"saved_at"`
}

// FileStore persists ratios as a JSON object keyed by calibration key:
//
//	{"default": {"ratio_x": 2, "ratio_y": 2, "saved_at": "..."}}
//
// Writes go through a temp file and rename, under a sidecar lock so
// concurrent agent processes do not lose each other's keys.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(key string, r Ratio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := filelock.Acquire(s.path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	entries, err := s.readAll()
	if err != nil {
		return err
	}
	entries[key] = storedRatio{Ratio: r, SavedAt: time.Now()}

	data, err := sonic.ConfigStd.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode calibration file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create calibration directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace calibration file: %w", err)
	}

	calLog().Debug().Str("path", s.path).Str("key", key).Msg("calibration saved")
	return nil
}

func (s *FileStore) Load(key string) (Ratio, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return Ratio{}, false, err
	}
	e, ok := entries[key]
	if !ok {
		return Ratio{}, false, nil
	}
	return e.Ratio, true, nil
}

func (s *FileStore) readAll() (map[string]storedRatio, error) {
	entries := make(map[string]storedRatio)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode calibration file %s: %w", s.path, err)
	}
	return entries, nil
}
