package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(path string, _ fsnotify.Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, filepath.Base(path))
}

func (r *recorder) seen(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == name {
			return true
		}
	}
	return false
}

func TestWatcher_ReportsMatchingCreate(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}

	w, err := New(dir, func(name string) bool { return name != "ignored" }, rec.handle)
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "warden-agent-1.2.0"), []byte("x"), 0755))

	assert.Eventually(t, func() bool { return rec.seen("warden-agent-1.2.0") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.seen("ignored"))
}

func TestFile_OnlyThatFile(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("a: 1\n"), 0644))
	rec := &recorder{}

	w, err := File(cfg, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, dir, w.Dir())
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 2\n"), 0644))
	require.NoError(t, os.WriteFile(cfg, []byte("a: 2\n"), 0644))

	assert.Eventually(t, func() bool { return rec.seen("agent.yaml") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.seen("other.yaml"))
}

func TestNew_MissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), nil, func(string, fsnotify.Op) {})
	assert.Error(t, err)
}

func TestStop_WithoutStart(t *testing.T) {
	w, err := New(t.TempDir(), nil, func(string, fsnotify.Op) {})
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}
