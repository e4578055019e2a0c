package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingInvalidator collects invalidated paths.
type recordingInvalidator struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingInvalidator) InvalidateFile(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return 1
}

func (r *recordingInvalidator) seen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == path {
			return true
		}
	}
	return false
}

func TestWatcher_InvalidatesOnWrite(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main\n"), 0o644))

	inv := &recordingInvalidator{}
	w, err := New(root, inv, Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Give the kernel watch a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte("package main\n\nfunc main() {}\n"), 0o644))

	assert.Eventually(t, func() bool {
		return inv.seen("main.go")
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_RequiresInvalidator(t *testing.T) {
	_, err := New(t.TempDir(), nil, Options{})
	assert.Error(t, err)
}

func TestWatcher_StopIdempotent(t *testing.T) {
	inv := &recordingInvalidator{}
	w, err := New(t.TempDir(), inv, Options{})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
