// Package agent runs deferred sync tasks in the background. It watches the
// spool directory the interactive client writes to and, once the sync
// service is reachable, reconciles the active tenant for every task.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/churchkeeper/internal/client/bgsync"
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

var ErrNoSpoolDir = errors.New("background sync disabled: no spool directory configured")

type App struct {
	config *config.Config
	logger logging.Logger

	store     *store.Store
	remote    client.Client
	tenants   *tenant.Manager
	reconcile *reconcile.Service
	monitor   *netmon.Monitor
	runner    *bgsync.Runner
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if c.SpoolDir == "" {
		return nil, ErrNoSpoolDir
	}

	st, err := store.Open(ctx, c.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	meta := metadata.NewSQLiteRepository(st.DB())
	opts := []client.Option{client.WithToken(c.APIToken)}
	if deviceID, err := metadata.DeviceID(ctx, meta); err == nil {
		opts = append(opts, client.WithDeviceID(deviceID))
	}

	remote, err := client.NewSyncClient(c.ServerEndpointAddr, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return newApp(c, logger, st, remote), nil
}

func newApp(c *config.Config, logger logging.Logger, st *store.Store, remote client.Client) *App {
	if logger == nil {
		logger = logging.Nop()
	}
	meta := metadata.NewSQLiteRepository(st.DB())

	app := &App{
		config:  c,
		logger:  logger.With("module", "agent"),
		store:   st,
		remote:  remote,
		tenants: tenant.NewManager(st, meta, logger),
		monitor: netmon.New(remote, c.OnlineCheckInterval, c.PingTimeout, logger),
	}
	app.reconcile = reconcile.NewService(
		queue.New(st, logger),
		remote,
		app.tenants,
		meta,
		readthrough.NewCourses(st, meta),
		readthrough.NewAgenda(st, meta),
		logger,
	)
	app.runner = bgsync.NewRunner(c.SpoolDir, app.monitor, app.handle, logger)
	return app
}

// handle runs one deferred task. The interactive client may switch tenants
// at any time; reconciliation reads the persisted pointer on every check,
// so a switch mid-run discards the rest of the run.
// A task is kept for another attempt while any of its progress is unsynced.
func (app *App) handle(ctx context.Context, task string) error {
	report, err := app.reconcile.Run(ctx, reconcile.TriggerBackground)
	if err == nil && report.Discarded {
		app.logger.Info(ctx, "tenant switched during sync, running again", "task", task, "tenant", report.TenantID)
		report, err = app.reconcile.Run(ctx, reconcile.TriggerBackground)
	}
	if errors.Is(err, reconcile.ErrNoActiveTenant) {
		app.logger.Info(ctx, "no active tenant, dropping task", "task", task)
		return nil
	}
	if err != nil {
		return err
	}

	app.logger.Info(ctx, "deferred sync done",
		"task", task,
		"tenant", report.TenantID,
		"pushed", report.Pushed,
		"failed", report.Failed,
	)
	if report.Failed > 0 {
		return fmt.Errorf("%w: %d records left", reconcile.ErrSyncPushFailed, report.Failed)
	}
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until ctx is cancelled or a termination signal arrives.
// Tasks that were waiting for connectivity are flushed on every online
// transition.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting agent...", "spool", app.config.SpoolDir)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	unsubscribe := app.monitor.OnChange(func(s netmon.State) {
		if s != netmon.Online {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n := app.runner.Flush(ctx); n > 0 {
				app.logger.Info(ctx, "flushed deferred tasks", "count", n)
			}
		}()
	})
	defer unsubscribe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.monitor.Start(ctx)
	}()

	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error(ctx, err.Error())
			runErr = err
			cancelFunc()
		}
	}()

	wg.Wait()
	app.tenants.Wait()

	return errors.Join(runErr, app.Close())
}

func (app *App) Close() error {
	return errors.Join(app.remote.Close(), app.store.Close())
}
