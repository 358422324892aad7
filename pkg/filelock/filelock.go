// Package filelock provides an advisory, cross-process lock on a sidecar
// file. It is used to keep two agent processes from interleaving writes to
// the same persisted state.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is a held advisory lock. Release must be called exactly once.
type Lock struct {
	f *os.File
}

// Acquire blocks until an exclusive lock on path is held. The lock file is
// created when missing and left in place afterwards.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
