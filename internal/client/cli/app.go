package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/churchkeeper/internal/client/bgsync"
	"github.com/dmitrijs2005/churchkeeper/internal/client/capability"
	"github.com/dmitrijs2005/churchkeeper/internal/client/client"
	"github.com/dmitrijs2005/churchkeeper/internal/client/config"
	"github.com/dmitrijs2005/churchkeeper/internal/client/netmon"
	"github.com/dmitrijs2005/churchkeeper/internal/client/queue"
	"github.com/dmitrijs2005/churchkeeper/internal/client/reconcile"
	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/readthrough"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/client/tenant"
	"github.com/dmitrijs2005/churchkeeper/internal/logging"
)

// deferredSyncTask is the spool task registered after every local progress
// write. One pending task is enough to drain the whole queue.
const deferredSyncTask = "sync-progress"

// Mode is what the prompt shows next to the tenant.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
	// ModeOnlineOnly means local storage could not be opened; reads go to
	// the server and nothing is queued.
	ModeOnlineOnly Mode = "online-only"
)

type App struct {
	config *config.Config
	logger logging.Logger

	store     *store.Store // nil in online-only mode
	meta      metadata.Repository
	tenants   *tenant.Manager
	queue     *queue.Queue
	courses   *readthrough.Courses
	agenda    *readthrough.Agenda
	reconcile *reconcile.Service
	caps      *capability.Manager

	remote    client.Client
	monitor   *netmon.Monitor
	scheduler *bgsync.Scheduler

	scanner *bufio.Scanner

	// online-only mode keeps the selection in memory
	mu       sync.Mutex
	tenantID string
	userID   string

	background sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

// NewApp opens local storage and the sync client. A storage failure is not
// fatal: the app starts in online-only mode instead.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	a := &App{config: c, logger: logger.With("module", "cli"), scanner: bufio.NewScanner(os.Stdin)}

	st, err := store.Open(ctx, c.DatabasePath, logger)
	if err != nil {
		a.logger.Warn(ctx, "local storage unavailable, continuing online-only", "error", err)
		st = nil
	}

	opts := []client.Option{client.WithToken(c.APIToken)}
	var meta metadata.Repository
	if st != nil {
		meta = metadata.NewSQLiteRepository(st.DB())
		deviceID, err := metadata.DeviceID(ctx, meta)
		if err != nil {
			a.logger.Warn(ctx, "device id unavailable", "error", err)
		} else {
			opts = append(opts, client.WithDeviceID(deviceID))
		}
	}

	remote, err := client.NewSyncClient(c.ServerEndpointAddr, opts...)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}

	if err := a.wire(ctx, st, meta, remote, capability.NewTerminalHost(os.Stdin, a)); err != nil {
		_ = remote.Close()
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}
	return a, nil
}

// wire builds the services on top of an opened store and remote client.
// st may be nil, which selects online-only mode.
func (a *App) wire(ctx context.Context, st *store.Store, meta metadata.Repository, remote client.Client, host capability.Host) error {
	a.remote = remote
	a.monitor = netmon.New(remote, a.config.OnlineCheckInterval, a.config.PingTimeout, a.logger)
	a.scheduler = bgsync.NewScheduler(a.config.SpoolDir, a.logger)

	if st == nil {
		return nil
	}

	a.store = st
	a.meta = meta
	a.tenants = tenant.NewManager(st, meta, a.logger)
	if err := a.tenants.Load(ctx); err != nil {
		return err
	}
	a.queue = queue.New(st, a.logger)
	a.courses = readthrough.NewCourses(st, meta)
	a.agenda = readthrough.NewAgenda(st, meta)
	a.reconcile = reconcile.NewService(a.queue, remote, a.tenants, meta, a.courses, a.agenda, a.logger)

	a.caps = capability.NewManager(host, meta, a.logger)
	return a.caps.Load(ctx)
}

func (a *App) onlineOnly() bool {
	return a.store == nil
}

func (a *App) mode() Mode {
	switch {
	case a.onlineOnly():
		return ModeOnlineOnly
	case a.monitor.IsOnline():
		return ModeOnline
	default:
		return ModeOffline
	}
}

// Run starts the connectivity watcher and the REPL and blocks until the user
// exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := a.monitor.OnChange(func(s netmon.State) {
		if s == netmon.Online {
			a.syncInBackground(ctx, reconcile.TriggerOnline)
		}
	})
	defer unsubscribe()

	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.monitor.Start(ctx)
	}()

	printlnFn("Welcome to churchkeeper (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.scanner)

	cancel()
	a.background.Wait()
	return nil
}

// syncInBackground runs reconciliation without blocking the prompt. Runs are
// serialized by the service, so overlapping triggers queue up.
func (a *App) syncInBackground(ctx context.Context, trigger reconcile.Trigger) {
	if a.onlineOnly() || a.tenants.Current() == "" {
		return
	}
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		report, err := a.reconcile.Run(ctx, trigger)
		if err != nil {
			a.logger.Warn(ctx, "background sync failed", "trigger", string(trigger), "error", err)
			return
		}
		a.logger.Debug(ctx, "background sync done",
			"trigger", string(trigger),
			"pushed", report.Pushed,
			"failed", report.Failed,
		)
	}()
}

// Wait blocks until background syncs and evictions started so far finish.
func (a *App) Wait() {
	a.background.Wait()
	if a.tenants != nil {
		a.tenants.Wait()
	}
}

// Close releases the remote connection and local storage. Safe to call more
// than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.Wait()

		var errs []error
		if a.remote != nil {
			errs = append(errs, a.remote.Close())
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// Ask implements capability.Prompter on top of the REPL's input so that
// questions and commands share one reader.
func (a *App) Ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	printlnFn(question)
	if !a.scanner.Scan() {
		if err := a.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return a.scanner.Text(), nil
}
