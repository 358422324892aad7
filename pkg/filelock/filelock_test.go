package filelock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan *Lock, 1)
	go func() {
		l2, err := Acquire(path)
		if err != nil {
			t.Errorf("second Acquire failed: %v", err)
			acquired <- nil
			return
		}
		acquired <- l2
	}()

	select {
	case <-acquired:
		t.Fatalf("second lock acquired while the first is held")
	case <-time.After(100 * time.Millisecond):
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	select {
	case l2 := <-acquired:
		if l2 != nil {
			l2.Release()
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second lock not acquired after release")
	}

	if err := l.Release(); err != nil {
		t.Errorf("double Release should be a no-op, got %v", err)
	}
}
