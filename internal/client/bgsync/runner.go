package bgsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dmitrijs2005/churchkeeper/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Handler performs a deferred task.
type Handler func(ctx context.Context, taskName string) error

type Connectivity interface {
	IsOnline() bool
}

// Runner executes spooled tasks. A task found while offline stays in the
// spool until Flush is called after connectivity returns; a task whose
// handler fails stays for the next Flush.
type Runner struct {
	dir     string
	online  Connectivity
	handler Handler
	logger  logging.Logger

	mu sync.Mutex
}

func NewRunner(dir string, online Connectivity, handler Handler, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{dir: dir, online: online, handler: handler, logger: logger.With("module", "bgsync")}
}

// Run watches the spool directory until ctx is done. Tasks already waiting
// are flushed first.
func (r *Runner) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return err
	}

	r.Flush(ctx)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if taskName(ev.Name) == "" {
				continue
			}
			r.process(ctx, ev.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn(ctx, "spool watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

// Flush runs every waiting task and reports how many completed.
func (r *Runner) Flush(ctx context.Context) int {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn(ctx, "failed to read spool", "error", err)
		}
		return 0
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && taskName(e.Name()) != "" {
			paths = append(paths, filepath.Join(r.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	done := 0
	for _, p := range paths {
		if r.process(ctx, p) {
			done++
		}
	}
	return done
}

// Pending lists the names of tasks still in the spool.
func (r *Runner) Pending() []string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if n := taskName(e.Name()); n != "" && !e.IsDir() {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Runner) process(ctx context.Context, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := taskName(path)
	if _, err := os.Stat(path); err != nil {
		// Already handled by an earlier event.
		return false
	}
	if !r.online.IsOnline() {
		r.logger.Debug(ctx, "deferred task waits for connectivity", "task", name)
		return false
	}

	if err := r.handler(ctx, name); err != nil {
		r.logger.Warn(ctx, "deferred task failed", "task", name, "error", err)
		return false
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn(ctx, "failed to remove finished task", "task", name, "error", err)
	}
	r.logger.Info(ctx, "deferred task done", "task", name)
	return true
}
