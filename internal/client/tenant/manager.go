// Package tenant tracks the active tenant and keeps each tenant's cached
// data apart. Switching tenants evicts the previous tenant's caches in the
// background; pending progress is never evicted.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
	"github.com/dmitrijs2005/churchkeeper/internal/logging"
	"github.com/dmitrijs2005/churchkeeper/internal/notify"
)

var (
	ErrEvictionFailed = errors.New("tenant cache eviction failed")
	ErrNoActiveTenant = errors.New("no active tenant")
	ErrInvalidTenant  = errors.New("tenant id must not be empty")
	ErrTenantChanged  = errors.New("active tenant changed")
)

// evictable lists the collections cleared for a tenant on switch.
// progress_queue is never evicted.
var evictable = []string{store.OfflineData, store.CoursesCache, store.AgendaCache}

// Store is the subset of *store.Store the manager uses.
type Store interface {
	Put(ctx context.Context, collection string, rec store.Record) (string, error)
	Get(ctx context.Context, collection, key string) (*store.Record, error)
	Delete(ctx context.Context, collection, key string) error
	DeleteWhere(ctx context.Context, collection, index string, value any) (int64, error)
}

// Switched is emitted after the active tenant pointer has moved.
type Switched struct {
	NewTenantID      string
	PreviousTenantID string
}

type Manager struct {
	store  Store
	meta   metadata.Repository
	logger logging.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current string

	// switching is held while the pointer moves and while a stale tenant
	// is evicted, so a switch back cannot interleave with the eviction.
	switching sync.Mutex

	listeners notify.Listeners[Switched]
	evictions sync.WaitGroup
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(st Store, meta metadata.Repository, logger logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		store:  st,
		meta:   meta,
		logger: logger.With("module", "tenant"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Load restores the active tenant persisted by a previous run.
func (m *Manager) Load(ctx context.Context) error {
	id, err := metadata.GetString(ctx, m.meta, metadata.KeyActiveTenant)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = id
	m.mu.Unlock()
	return nil
}

// Current returns the active tenant id, "" if none was ever selected.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Active re-reads the persisted pointer, which another process sharing the
// database may have moved, and returns it.
func (m *Manager) Active(ctx context.Context) (string, error) {
	id, err := metadata.GetString(ctx, m.meta, metadata.KeyActiveTenant)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.current != id {
		m.logger.Debug(ctx, "active tenant moved by another process", "from", m.current, "to", id)
		m.current = id
	}
	m.mu.Unlock()
	return id, nil
}

// RequireActive returns a check for use inside a write transaction. It
// fails with ErrTenantChanged unless tenantID is still the persisted active
// tenant, so the write commits only if no switch happened first.
func (m *Manager) RequireActive(tenantID string) dbx.TxFunc {
	return func(ctx context.Context, tx dbx.DBTX) error {
		id, err := metadata.GetString(ctx, metadata.NewSQLiteRepository(tx), metadata.KeyActiveTenant)
		if err != nil {
			return err
		}
		if id != tenantID {
			return fmt.Errorf("%w: %q is no longer active", ErrTenantChanged, tenantID)
		}
		return nil
	}
}

// Subscribe registers fn for Switched events.
func (m *Manager) Subscribe(fn func(Switched)) (unsubscribe func()) {
	return m.listeners.Add(fn)
}

// SwitchTenant makes newID the active tenant. The pointer is persisted
// before anything else happens; eviction of the previous tenant's caches
// runs asynchronously and its failures are only logged.
func (m *Manager) SwitchTenant(ctx context.Context, newID string) error {
	if newID == "" {
		return ErrInvalidTenant
	}

	prev, moved, err := m.move(ctx, newID)
	if err != nil || !moved {
		return err
	}

	m.logger.Info(ctx, "tenant switched", "from", prev, "to", newID)

	if prev != "" {
		m.evictions.Add(1)
		go func() {
			defer m.evictions.Done()
			m.evictStale(context.WithoutCancel(ctx), prev)
		}()
	}

	m.listeners.Emit(Switched{NewTenantID: newID, PreviousTenantID: prev})
	return nil
}

func (m *Manager) move(ctx context.Context, newID string) (prev string, moved bool, err error) {
	m.switching.Lock()
	defer m.switching.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	prev = m.current
	if prev == newID {
		return prev, false, nil
	}
	if err := metadata.SetString(ctx, m.meta, metadata.KeyActiveTenant, newID); err != nil {
		return prev, false, fmt.Errorf("failed to persist active tenant: %w", err)
	}
	m.current = newID
	return prev, true, nil
}

// Wait blocks until every eviction started by SwitchTenant has finished.
func (m *Manager) Wait() {
	m.evictions.Wait()
}

func (m *Manager) evictStale(ctx context.Context, tenantID string) {
	m.switching.Lock()
	defer m.switching.Unlock()

	// Switched straight back: the data is live again.
	if m.Current() == tenantID {
		return
	}
	if err := m.EvictTenant(ctx, tenantID); err != nil {
		m.logger.Warn(ctx, "tenant eviction failed", "tenant", tenantID, "error", err)
	}
}

// EvictTenant deletes tenantID's offline data and read-through caches along
// with their refresh markers. It keeps going after a failed collection and
// reports every failure.
func (m *Manager) EvictTenant(ctx context.Context, tenantID string) error {
	var errs []error
	for _, coll := range evictable {
		n, err := m.store.DeleteWhere(ctx, coll, store.IndexTenantID, tenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", coll, err))
			continue
		}
		m.logger.Debug(ctx, "evicted tenant cache", "tenant", tenantID, "collection", coll, "count", n)

		// An emptied cache must not look fresh.
		if err := m.meta.Delete(ctx, metadata.RefreshedAtKey(coll, tenantID)); err != nil {
			errs = append(errs, fmt.Errorf("%s marker: %w", coll, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrEvictionFailed, errors.Join(errs...))
	}
	return nil
}

// PutEntry stores value under key for the active tenant. A positive ttl
// makes the entry disappear from reads once it has elapsed.
func (m *Manager) PutEntry(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	tenantID := m.Current()
	if tenantID == "" {
		return ErrNoActiveTenant
	}

	now := m.now().UnixMilli()
	e := models.CachedEntry{Key: key, Value: value, TenantID: tenantID, WrittenAt: now}
	if ttl > 0 {
		exp := now + ttl.Milliseconds()
		e.ExpiresAt = &exp
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry %s: %w", key, err)
	}
	_, err = m.store.Put(ctx, store.OfflineData, store.Record{Key: storageKey(tenantID, key), Value: b})
	return err
}

// GetEntry returns the active tenant's entry under key, or nil if it is
// missing, expired or owned by another tenant. Expired entries are deleted.
func (m *Manager) GetEntry(ctx context.Context, key string) (*models.CachedEntry, error) {
	tenantID := m.Current()
	if tenantID == "" {
		return nil, ErrNoActiveTenant
	}

	skey := storageKey(tenantID, key)
	rec, err := m.store.Get(ctx, store.OfflineData, skey)
	if err != nil || rec == nil {
		return nil, err
	}

	var e models.CachedEntry
	if err := json.Unmarshal(rec.Value, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry %s: %w", key, err)
	}
	if e.TenantID != tenantID {
		return nil, nil
	}

	if e.Expired(m.now().UnixMilli()) {
		if err := m.store.Delete(ctx, store.OfflineData, skey); err != nil {
			m.logger.Warn(ctx, "failed to delete expired entry", "key", key, "error", err)
		}
		return nil, nil
	}
	return &e, nil
}

func (m *Manager) DeleteEntry(ctx context.Context, key string) error {
	tenantID := m.Current()
	if tenantID == "" {
		return ErrNoActiveTenant
	}
	return m.store.Delete(ctx, store.OfflineData, storageKey(tenantID, key))
}

func storageKey(tenantID, key string) string {
	return tenantID + "/" + key
}
