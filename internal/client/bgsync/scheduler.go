// Package bgsync lets the interactive client hand a sync over to the
// background agent. A deferred task is a file in a spool directory; the
// agent watches the directory and runs reconciliation for each task once the
// device is online.
package bgsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/logging"
)

var (
	// ErrBackgroundUnsupported means no usable spool directory; callers never
	// see it, it is only logged.
	ErrBackgroundUnsupported = errors.New("background sync unsupported")
	ErrInvalidTaskName       = errors.New("invalid task name")
)

const taskExt = ".task"

type task struct {
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type Scheduler struct {
	dir    string
	logger logging.Logger
	now    func() time.Time
}

// NewScheduler returns a scheduler spooling into dir. An empty dir disables
// background sync.
func NewScheduler(dir string, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{dir: dir, logger: logger.With("module", "bgsync"), now: time.Now}
}

// RegisterDeferredSync asks the agent to run taskName. Registering a task
// that is already waiting changes nothing. The result reports whether the
// task is now queued; failures are logged, never returned.
func (s *Scheduler) RegisterDeferredSync(ctx context.Context, taskName string) bool {
	if err := validTaskName(taskName); err != nil {
		s.logger.Warn(ctx, "deferred sync not registered", "task", taskName, "error", err)
		return false
	}
	if s.dir == "" {
		s.logger.Debug(ctx, "deferred sync not registered", "task", taskName,
			"error", fmt.Errorf("%w: no spool directory", ErrBackgroundUnsupported))
		return false
	}

	if err := s.register(taskName); err != nil {
		s.logger.Debug(ctx, "deferred sync not registered", "task", taskName,
			"error", fmt.Errorf("%w: %w", ErrBackgroundUnsupported, err))
		return false
	}

	s.logger.Debug(ctx, "deferred sync registered", "task", taskName)
	return true
}

func (s *Scheduler) register(taskName string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	path := filepath.Join(s.dir, taskName+taskExt)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	b, err := json.Marshal(task{Name: taskName, RegisteredAt: s.now().UTC()})
	if err != nil {
		return err
	}

	// Write then rename so the watcher never sees a partial file.
	tmp, err := os.CreateTemp(s.dir, ".pending-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func validTaskName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidTaskName, name)
	}
	return nil
}

// taskName returns the task a spool file stands for, or "" if path is not
// a task file.
func taskName(path string) string {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, taskExt) {
		return ""
	}
	return strings.TrimSuffix(base, taskExt)
}
