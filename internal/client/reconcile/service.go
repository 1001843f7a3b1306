// Package reconcile drains the pending-change queue into the sync service
// and refreshes the read-through caches afterwards.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/churchkeeper/internal/client/tenant"
	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
	"github.com/dmitrijs2005/churchkeeper/internal/logging"
)

var (
	ErrSyncPushFailed = errors.New("progress push failed")
	ErrNoActiveTenant = errors.New("no active tenant")
)

// Trigger names what started a run. It is only used for logging.
type Trigger string

const (
	TriggerOnline     Trigger = "online"
	TriggerManual     Trigger = "manual"
	TriggerBackground Trigger = "background"
)

type Queue interface {
	ListPending(ctx context.Context, tenantID string) ([]models.ProgressRecord, error)
	MarkSynced(ctx context.Context, id int64) error
}

type Remote interface {
	PushProgress(ctx context.Context, rec models.ProgressRecord, idempotencyKey string) (bool, error)
	FetchCourses(ctx context.Context, tenantID string) ([]models.CourseSummary, error)
	FetchAgenda(ctx context.Context, userID, tenantID string) ([]models.AgendaItem, error)
}

// Tenants reads the persisted active tenant. The pointer may be moved by
// another process sharing the database, so it is never cached across checks.
type Tenants interface {
	Active(ctx context.Context) (string, error)
	RequireActive(tenantID string) dbx.TxFunc
}

type CoursesCache interface {
	Replace(ctx context.Context, tenantID string, courses []models.CourseSummary, at time.Time, checks ...dbx.TxFunc) error
}

type AgendaCache interface {
	Replace(ctx context.Context, userID, tenantID string, items []models.AgendaItem, at time.Time, checks ...dbx.TxFunc) error
}

// Report summarises one run.
type Report struct {
	Trigger  Trigger
	TenantID string
	UserID   string

	Pushed     int // winners accepted by the server
	Superseded int // records marked synced without being sent
	Failed     int // winners left unsynced

	CoursesRefreshed bool
	AgendaRefreshed  bool

	// Discarded is set when the active tenant changed mid-run; nothing
	// was written locally after the change was noticed.
	Discarded bool

	Errors []error
}

type Service struct {
	queue   Queue
	remote  Remote
	tenants Tenants
	meta    metadata.Repository
	courses CoursesCache
	agenda  AgendaCache
	logger  logging.Logger
	now     func() time.Time

	mu sync.Mutex
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	q Queue,
	remote Remote,
	tenants Tenants,
	meta metadata.Repository,
	courses CoursesCache,
	agenda AgendaCache,
	logger logging.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		queue:   q,
		remote:  remote,
		tenants: tenants,
		meta:    meta,
		courses: courses,
		agenda:  agenda,
		logger:  logger.With("module", "reconcile"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run pushes the active tenant's pending progress and refreshes its caches.
// Runs never overlap. Per-record push failures and refresh failures are
// collected in the report rather than returned; the error result is for
// failures that prevent the run from starting.
func (s *Service) Run(ctx context.Context, trigger Trigger) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID, err := s.tenants.Active(ctx)
	if err != nil {
		return Report{Trigger: trigger}, fmt.Errorf("failed to read active tenant: %w", err)
	}
	report := Report{Trigger: trigger, TenantID: tenantID}
	if tenantID == "" {
		return report, ErrNoActiveTenant
	}

	userID, err := metadata.GetString(ctx, s.meta, metadata.KeyActiveUser)
	if err != nil {
		return report, err
	}
	report.UserID = userID

	pending, err := s.queue.ListPending(ctx, tenantID)
	if err != nil {
		return report, fmt.Errorf("failed to list pending progress: %w", err)
	}

	s.logger.Info(ctx, "reconciliation started", "trigger", string(trigger), "tenant", tenantID, "pending", len(pending))

	for _, g := range Coalesce(pending) {
		if !s.stillActive(ctx, tenantID) {
			report.Discarded = true
			break
		}
		s.push(ctx, tenantID, g, &report)
	}

	if !report.Discarded {
		s.refresh(ctx, tenantID, userID, &report)
	}

	s.logger.Info(ctx, "reconciliation finished",
		"tenant", tenantID,
		"pushed", report.Pushed,
		"superseded", report.Superseded,
		"failed", report.Failed,
		"discarded", report.Discarded)

	return report, nil
}

func (s *Service) stillActive(ctx context.Context, tenantID string) bool {
	id, err := s.tenants.Active(ctx)
	if err != nil {
		s.logger.Warn(ctx, "failed to read active tenant", "error", err)
		return false
	}
	return id == tenantID
}

func (s *Service) push(ctx context.Context, tenantID string, g Group, report *Report) {
	w := g.Winner

	accepted, err := s.remote.PushProgress(ctx, w, IdempotencyKey(w))
	if err == nil && !accepted {
		err = errors.New("rejected by server")
	}
	if err != nil {
		err = fmt.Errorf("%w: record %d: %w", ErrSyncPushFailed, w.ID, err)
		report.Failed++
		report.Errors = append(report.Errors, err)
		s.logger.Warn(ctx, "progress push failed", "id", w.ID, "lesson", w.LessonID, "error", err)
		return
	}

	// The server has the record; only the local flags are at stake now.
	if !s.stillActive(ctx, tenantID) {
		report.Discarded = true
		report.Pushed++
		return
	}

	for _, id := range g.IDs() {
		if err := s.queue.MarkSynced(ctx, id); err != nil {
			report.Errors = append(report.Errors, err)
			s.logger.Warn(ctx, "failed to mark progress synced", "id", id, "error", err)
		}
	}
	report.Pushed++
	report.Superseded += len(g.Superseded)
}

// refresh replaces the tenant's cached collections. A failed fetch keeps
// the previous copy and its refresh marker. Each write commits only if the
// tenant is still active inside its transaction.
func (s *Service) refresh(ctx context.Context, tenantID, userID string, report *Report) {
	guard := s.tenants.RequireActive(tenantID)

	courses, err := s.remote.FetchCourses(ctx, tenantID)
	if err == nil {
		err = s.courses.Replace(ctx, tenantID, courses, s.now(), guard)
	}
	switch {
	case errors.Is(err, tenant.ErrTenantChanged):
		report.Discarded = true
		return
	case err != nil:
		s.refreshFailed(ctx, "courses", err, report)
	default:
		report.CoursesRefreshed = true
	}

	if userID == "" {
		return
	}

	items, err := s.remote.FetchAgenda(ctx, userID, tenantID)
	if err == nil {
		err = s.agenda.Replace(ctx, userID, tenantID, items, s.now(), guard)
	}
	switch {
	case errors.Is(err, tenant.ErrTenantChanged):
		report.Discarded = true
	case err != nil:
		s.refreshFailed(ctx, "agenda", err, report)
	default:
		report.AgendaRefreshed = true
	}
}

func (s *Service) refreshFailed(ctx context.Context, what string, err error, report *Report) {
	err = fmt.Errorf("refresh %s: %w", what, err)
	report.Errors = append(report.Errors, err)
	s.logger.Warn(ctx, "cache refresh failed, keeping previous copy", "cache", what, "error", err)
}
