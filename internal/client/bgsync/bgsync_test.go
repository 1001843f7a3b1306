package bgsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type switchable struct{ on atomic.Bool }

func (s *switchable) IsOnline() bool { return s.on.Load() }

type handlerLog struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (h *handlerLog) handle(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, name)
	return h.err
}

func (h *handlerLog) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.runs...)
}

func TestRegisterDeferredSync_WritesTaskOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	s := NewScheduler(dir, nil)
	ctx := context.Background()

	require.True(t, s.RegisterDeferredSync(ctx, "progress-sync"))
	info, err := os.Stat(filepath.Join(dir, "progress-sync.task"))
	require.NoError(t, err)

	require.True(t, s.RegisterDeferredSync(ctx, "progress-sync"))
	again, err := os.Stat(filepath.Join(dir, "progress-sync.task"))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime(), "second registration leaves the task alone")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRegisterDeferredSync_Unsupported(t *testing.T) {
	ctx := context.Background()

	assert.False(t, NewScheduler("", nil).RegisterDeferredSync(ctx, "progress-sync"))

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	assert.False(t, NewScheduler(filepath.Join(blocker, "spool"), nil).RegisterDeferredSync(ctx, "progress-sync"))
}

func TestRegisterDeferredSync_RejectsPathLikeNames(t *testing.T) {
	s := NewScheduler(t.TempDir(), nil)
	for _, name := range []string{"", ".", "..", "../x", `a\b`, ".hidden"} {
		assert.False(t, s.RegisterDeferredSync(context.Background(), name), name)
	}
}

func TestTaskName(t *testing.T) {
	assert.Equal(t, "sync", taskName("/spool/sync.task"))
	assert.Empty(t, taskName("/spool/.pending-123"))
	assert.Empty(t, taskName("/spool/notes.txt"))
}

func TestFlush_RunsTasksOnlyWhenOnline(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := NewScheduler(dir, nil)
	require.True(t, s.RegisterDeferredSync(ctx, "a"))
	require.True(t, s.RegisterDeferredSync(ctx, "b"))

	online := &switchable{}
	h := &handlerLog{}
	r := NewRunner(dir, online, h.handle, nil)

	assert.Zero(t, r.Flush(ctx))
	assert.Empty(t, h.calls())
	assert.Equal(t, []string{"a", "b"}, r.Pending())

	online.on.Store(true)
	assert.Equal(t, 2, r.Flush(ctx))
	assert.Equal(t, []string{"a", "b"}, h.calls())
	assert.Empty(t, r.Pending())
}

func TestFlush_FailedTaskStays(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	require.True(t, NewScheduler(dir, nil).RegisterDeferredSync(ctx, "a"))

	online := &switchable{}
	online.on.Store(true)
	h := &handlerLog{err: errors.New("server unavailable")}
	r := NewRunner(dir, online, h.handle, nil)

	assert.Zero(t, r.Flush(ctx))
	assert.Equal(t, []string{"a"}, r.Pending())

	h.mu.Lock()
	h.err = nil
	h.mu.Unlock()
	assert.Equal(t, 1, r.Flush(ctx))
	assert.Empty(t, r.Pending())
}

func TestFlush_MissingSpool(t *testing.T) {
	r := NewRunner(filepath.Join(t.TempDir(), "absent"), &switchable{}, (&handlerLog{}).handle, nil)
	assert.Zero(t, r.Flush(context.Background()))
	assert.Nil(t, r.Pending())
}

func TestRun_PicksUpNewTasks(t *testing.T) {
	dir := t.TempDir()
	online := &switchable{}
	online.on.Store(true)
	h := &handlerLog{}
	r := NewRunner(dir, online, h.handle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	s := NewScheduler(dir, nil)
	// The watcher may not be installed yet; keep registering until it runs.
	require.Eventually(t, func() bool {
		s.RegisterDeferredSync(context.Background(), "progress-sync")
		return len(h.calls()) > 0
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return len(r.Pending()) == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
