package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/client/capability"
	"github.com/dmitrijs2005/churchkeeper/internal/client/client"
	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
	"github.com/dmitrijs2005/churchkeeper/internal/client/reconcile"
	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/client/tenant"
	"github.com/dmitrijs2005/churchkeeper/internal/validate"
)

var (
	errNoActiveUser = errors.New("no active user")
	errNeedsStorage = fmt.Errorf("local storage: %w", store.ErrStorageUnavailable)
	errInvalidJSON  = errors.New("value must be valid JSON")
)

const (
	msgUnavailable = "sync temporarily unavailable"
	msgRetry       = "run `sync` to retry"
)

// userMessage maps an error to what the prompt is allowed to show.
// Storage and quota problems are never described in detail.
func userMessage(err error) string {
	switch {
	case errors.Is(err, validate.ErrInvalidInput), errors.Is(err, errInvalidJSON):
		return err.Error()
	case errors.Is(err, store.ErrStorageUnavailable), errors.Is(err, store.ErrWriteFailed):
		return msgUnavailable
	case errors.Is(err, tenant.ErrNoActiveTenant), errors.Is(err, reconcile.ErrNoActiveTenant):
		return "no active tenant, use `tenant <id>` first"
	case errors.Is(err, tenant.ErrInvalidTenant):
		return "tenant id must not be empty"
	case errors.Is(err, errNoActiveUser):
		return "no active user, use `user <id>` first"
	case errors.Is(err, client.ErrUnavailable):
		return "offline, " + msgRetry
	case errors.Is(err, client.ErrUnauthorized):
		return "the sync service refused the request"
	default:
		return "error: " + err.Error()
	}
}

func (a *App) fail(ctx context.Context, op string, err error) error {
	a.logger.Warn(ctx, op+" failed", "error", err)
	printlnFn(userMessage(err))
	return err
}

func (a *App) currentTenant() string {
	if a.onlineOnly() {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.tenantID
	}
	return a.tenants.Current()
}

func (a *App) currentUser(ctx context.Context) (string, error) {
	if a.onlineOnly() {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.userID, nil
	}
	return metadata.GetString(ctx, a.meta, metadata.KeyActiveUser)
}

// selection returns the active tenant and user, failing if either is unset.
func (a *App) selection(ctx context.Context) (tenantID, userID string, err error) {
	tenantID = a.currentTenant()
	if tenantID == "" {
		return "", "", tenant.ErrNoActiveTenant
	}
	userID, err = a.currentUser(ctx)
	if err != nil {
		return "", "", err
	}
	if userID == "" {
		return "", "", errNoActiveUser
	}
	return tenantID, userID, nil
}

func (a *App) getStatus() string {
	parts := make([]string, 0, 3)
	if t := a.currentTenant(); t != "" {
		parts = append(parts, t)
	}
	if u, err := a.currentUser(context.Background()); err == nil && u != "" {
		parts = append(parts, u)
	}
	parts = append(parts, string(a.mode()))
	return fmt.Sprintf("(%s)", strings.Join(parts, " "))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func (a *App) Status(ctx context.Context) error {
	tenantID := a.currentTenant()
	userID, _ := a.currentUser(ctx)

	printlnFn("mode:", a.mode())
	printlnFn("tenant:", orNone(tenantID))
	printlnFn("user:", orNone(userID))

	if a.onlineOnly() {
		printlnFn(msgUnavailable)
		return nil
	}

	if tenantID != "" {
		n, err := a.queue.CountPending(ctx, tenantID)
		if err != nil {
			return a.fail(ctx, "status", err)
		}
		printlnFn("pending progress:", n)
		if n > 0 && !a.monitor.IsOnline() {
			printlnFn(msgRetry)
		}

		at, ok, err := a.courses.RefreshedAt(ctx, tenantID)
		if err != nil {
			return a.fail(ctx, "status", err)
		}
		if ok {
			printlnFn("courses refreshed:", at.Local().Format(time.DateTime))
		} else {
			printlnFn("courses refreshed: never")
		}
	}

	printlnFn("install:", a.caps.InstallState())
	printlnFn("notifications:", a.caps.NotificationPermission())
	return nil
}

// SwitchTenant makes tenantID active. The previous tenant's caches are
// evicted in the background; when online the new tenant is fetched.
func (a *App) SwitchTenant(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if a.onlineOnly() {
		if tenantID == "" {
			return a.fail(ctx, "switch tenant", tenant.ErrInvalidTenant)
		}
		a.mu.Lock()
		a.tenantID = tenantID
		a.mu.Unlock()
		printlnFn("active tenant:", tenantID)
		return nil
	}

	if err := a.tenants.SwitchTenant(ctx, tenantID); err != nil {
		return a.fail(ctx, "switch tenant", err)
	}
	printlnFn("active tenant:", tenantID)

	if a.monitor.IsOnline() {
		a.syncInBackground(ctx, reconcile.TriggerManual)
	}
	return nil
}

func (a *App) SetUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return a.fail(ctx, "set user", errNoActiveUser)
	}
	if a.onlineOnly() {
		a.mu.Lock()
		a.userID = userID
		a.mu.Unlock()
	} else if err := metadata.SetString(ctx, a.meta, metadata.KeyActiveUser, userID); err != nil {
		return a.fail(ctx, "set user", err)
	}
	printlnFn("active user:", userID)
	return nil
}

// RecordProgress queues a progress record and asks for a deferred sync.
// In online-only mode the record is pushed straight away instead.
func (a *App) RecordProgress(ctx context.Context, courseID, lessonID string, percent int, done bool) error {
	tenantID, userID, err := a.selection(ctx)
	if err != nil {
		return a.fail(ctx, "record progress", err)
	}

	in := models.ProgressInput{
		UserID:          userID,
		CourseID:        courseID,
		LessonID:        lessonID,
		ProgressPercent: percent,
		TenantID:        tenantID,
	}
	if done {
		now := time.Now().UTC()
		in.CompletedAt = &now
	}

	if a.onlineOnly() {
		return a.pushDirect(ctx, in)
	}

	rec, err := a.queue.RecordProgress(ctx, in)
	if err != nil {
		return a.fail(ctx, "record progress", err)
	}
	printlnFn(fmt.Sprintf("saved %s/%s at %d%%", rec.CourseID, rec.LessonID, rec.ProgressPercent))

	a.scheduler.RegisterDeferredSync(ctx, deferredSyncTask)
	if a.monitor.IsOnline() {
		a.syncInBackground(ctx, reconcile.TriggerManual)
	} else {
		printlnFn("offline: will sync when back online")
	}
	return nil
}

func (a *App) pushDirect(ctx context.Context, in models.ProgressInput) error {
	if err := validate.Struct(in); err != nil {
		return a.fail(ctx, "record progress", err)
	}
	rec := models.ProgressRecord{
		UserID:          in.UserID,
		CourseID:        in.CourseID,
		LessonID:        in.LessonID,
		ProgressPercent: in.ProgressPercent,
		CompletedAt:     in.CompletedAt,
		WrittenAt:       time.Now().UnixMilli(),
		TenantID:        in.TenantID,
	}
	accepted, err := a.remote.PushProgress(ctx, rec, reconcile.IdempotencyKey(rec))
	if err == nil && !accepted {
		err = reconcile.ErrSyncPushFailed
	}
	if err != nil {
		return a.fail(ctx, "push progress", err)
	}
	printlnFn(fmt.Sprintf("sent %s/%s at %d%%", rec.CourseID, rec.LessonID, rec.ProgressPercent))
	return nil
}

func (a *App) MyProgress(ctx context.Context) error {
	if a.onlineOnly() {
		return a.fail(ctx, "list progress", errNeedsStorage)
	}
	tenantID, userID, err := a.selection(ctx)
	if err != nil {
		return a.fail(ctx, "list progress", err)
	}

	recs, err := a.queue.ListByUser(ctx, userID, tenantID)
	if err != nil {
		return a.fail(ctx, "list progress", err)
	}
	if len(recs) == 0 {
		printlnFn("no progress recorded")
		return nil
	}
	for _, r := range recs {
		state := "pending"
		if r.Synced {
			state = "synced"
		}
		printlnFn(fmt.Sprintf("%s/%s\t%d%%\t%s", r.CourseID, r.LessonID, r.ProgressPercent, state))
	}
	return nil
}

func (a *App) Pending(ctx context.Context) error {
	if a.onlineOnly() {
		return a.fail(ctx, "count pending", errNeedsStorage)
	}
	tenantID := a.currentTenant()
	if tenantID == "" {
		return a.fail(ctx, "count pending", tenant.ErrNoActiveTenant)
	}
	n, err := a.queue.CountPending(ctx, tenantID)
	if err != nil {
		return a.fail(ctx, "count pending", err)
	}
	printlnFn("pending progress:", n)
	return nil
}

// Courses prints the cached course list. A tenant that was never refreshed
// is fetched once if the server is reachable.
func (a *App) Courses(ctx context.Context) error {
	tenantID := a.currentTenant()
	if tenantID == "" {
		return a.fail(ctx, "list courses", tenant.ErrNoActiveTenant)
	}

	var courses []models.CourseSummary
	var err error
	if a.onlineOnly() {
		courses, err = a.remote.FetchCourses(ctx, tenantID)
	} else {
		courses, err = a.cachedCourses(ctx, tenantID)
	}
	if err != nil {
		return a.fail(ctx, "list courses", err)
	}

	if len(courses) == 0 {
		printlnFn("no courses")
		return nil
	}
	for _, c := range courses {
		printlnFn(fmt.Sprintf("%s\t%s (%d lessons)", c.ID, c.Title, c.LessonCount))
	}
	return nil
}

func (a *App) cachedCourses(ctx context.Context, tenantID string) ([]models.CourseSummary, error) {
	_, refreshed, err := a.courses.RefreshedAt(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !refreshed && a.monitor.IsOnline() {
		fresh, err := a.remote.FetchCourses(ctx, tenantID)
		if err != nil {
			a.logger.Warn(ctx, "course fetch failed, showing cache", "error", err)
		} else if err := a.courses.Replace(ctx, tenantID, fresh, time.Now()); err != nil {
			a.logger.Warn(ctx, "course cache refresh failed", "error", err)
		}
	}
	return a.courses.List(ctx, tenantID)
}

func (a *App) Agenda(ctx context.Context) error {
	tenantID, userID, err := a.selection(ctx)
	if err != nil {
		return a.fail(ctx, "list agenda", err)
	}

	var items []models.AgendaItem
	if a.onlineOnly() {
		items, err = a.remote.FetchAgenda(ctx, userID, tenantID)
	} else {
		items, err = a.cachedAgenda(ctx, userID, tenantID)
	}
	if err != nil {
		return a.fail(ctx, "list agenda", err)
	}

	if len(items) == 0 {
		printlnFn("agenda is empty")
		return nil
	}
	for _, it := range items {
		line := fmt.Sprintf("%s %s\t%s", it.Date, it.StartsAt, it.Title)
		if it.Location != "" {
			line += " @ " + it.Location
		}
		printlnFn(line)
	}
	return nil
}

func (a *App) cachedAgenda(ctx context.Context, userID, tenantID string) ([]models.AgendaItem, error) {
	_, refreshed, err := a.agenda.RefreshedAt(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !refreshed && a.monitor.IsOnline() {
		fresh, err := a.remote.FetchAgenda(ctx, userID, tenantID)
		if err != nil {
			a.logger.Warn(ctx, "agenda fetch failed, showing cache", "error", err)
		} else if err := a.agenda.Replace(ctx, userID, tenantID, fresh, time.Now()); err != nil {
			a.logger.Warn(ctx, "agenda cache refresh failed", "error", err)
		}
	}
	return a.agenda.List(ctx, userID, tenantID)
}

// Sync runs reconciliation in the foreground and prints the outcome.
func (a *App) Sync(ctx context.Context) error {
	if a.onlineOnly() {
		return a.fail(ctx, "sync", errNeedsStorage)
	}

	report, err := a.reconcile.Run(ctx, reconcile.TriggerManual)
	if err != nil {
		return a.fail(ctx, "sync", err)
	}

	printlnFn(fmt.Sprintf("pushed %d, superseded %d, failed %d", report.Pushed, report.Superseded, report.Failed))
	switch {
	case report.Discarded:
		printlnFn("tenant changed during sync, " + msgRetry)
	case report.Failed > 0 || len(report.Errors) > 0:
		printlnFn(msgUnavailable + ", " + msgRetry)
	}
	return nil
}

// Cache handles the "cache put|get|del" family on the tenant's offline data.
func (a *App) Cache(ctx context.Context, op, key string, rest []string) error {
	if a.onlineOnly() {
		return a.fail(ctx, "cache "+op, errNeedsStorage)
	}

	switch op {
	case "put":
		if len(rest) == 0 {
			printlnFn("Usage: cache put <key> <json> [ttl]")
			return nil
		}
		value := json.RawMessage(rest[0])
		if !json.Valid(value) {
			return a.fail(ctx, "cache put", errInvalidJSON)
		}
		var ttl time.Duration
		if len(rest) > 1 {
			d, err := time.ParseDuration(rest[1])
			if err != nil {
				printlnFn("Usage: cache put <key> <json> [ttl], ttl like 10m")
				return nil
			}
			ttl = d
		}
		if err := a.tenants.PutEntry(ctx, key, value, ttl); err != nil {
			return a.fail(ctx, "cache put", err)
		}
		printlnFn("stored", key)

	case "get":
		e, err := a.tenants.GetEntry(ctx, key)
		if err != nil {
			return a.fail(ctx, "cache get", err)
		}
		if e == nil {
			printlnFn("not found:", key)
			return nil
		}
		printlnFn(string(e.Value))

	case "del":
		if err := a.tenants.DeleteEntry(ctx, key); err != nil {
			return a.fail(ctx, "cache del", err)
		}
		printlnFn("deleted", key)

	default:
		printlnFn("Usage: cache put|get|del <key> ...")
	}
	return nil
}

func (a *App) Install(ctx context.Context) error {
	if a.onlineOnly() {
		return a.fail(ctx, "install", errNeedsStorage)
	}
	switch {
	case a.caps.IsInstalled():
		printlnFn("already installed")
		return nil
	case !a.caps.CanInstall():
		printlnFn("installation is not offered in this session")
		return nil
	}

	choice, err := a.caps.PromptInstall(ctx)
	if err != nil {
		return a.fail(ctx, "install", err)
	}
	if choice == capability.ChoiceAccepted {
		printlnFn("installed")
	} else {
		printlnFn("installation dismissed")
	}
	return nil
}

func (a *App) Notify(ctx context.Context) error {
	if a.onlineOnly() {
		return a.fail(ctx, "notifications", errNeedsStorage)
	}
	p, err := a.caps.RequestNotificationPermission(ctx)
	if err != nil {
		return a.fail(ctx, "notifications", err)
	}
	printlnFn("notifications:", p)
	return nil
}
