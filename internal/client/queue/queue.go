// Package queue is the pending-change queue: an append-only log of lesson
// progress records waiting to be pushed to the sync service.
//
// Records are never deleted here. Reconciliation flips their synced flag
// once the server has accepted them (or a better record for the same
// lesson).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/logging"
	"github.com/dmitrijs2005/churchkeeper/internal/validate"
)

var ErrRecordNotFound = errors.New("progress record not found")

// Store is the subset of *store.Store the queue uses.
type Store interface {
	Put(ctx context.Context, collection string, rec store.Record) (string, error)
	QueryByIndex(ctx context.Context, collection, index string, value any) ([]store.Record, error)
	Update(ctx context.Context, collection, key string, fn func(cur *store.Record) (*store.Record, error)) error
}

type Queue struct {
	store  Store
	logger logging.Logger
	now    func() time.Time
}

type Option func(*Queue)

// WithClock overrides time.Now for WrittenAt stamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(st Store, logger logging.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = logging.Nop()
	}
	q := &Queue{store: st, logger: logger.With("module", "queue"), now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

// RecordProgress appends a new unsynced record. Earlier records for the same
// lesson are left untouched.
func (q *Queue) RecordProgress(ctx context.Context, in models.ProgressInput) (models.ProgressRecord, error) {
	if err := validate.Struct(in); err != nil {
		return models.ProgressRecord{}, err
	}

	rec := models.ProgressRecord{
		UserID:          in.UserID,
		CourseID:        in.CourseID,
		LessonID:        in.LessonID,
		ProgressPercent: in.ProgressPercent,
		CompletedAt:     in.CompletedAt,
		WrittenAt:       q.now().UnixMilli(),
		TenantID:        in.TenantID,
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return models.ProgressRecord{}, fmt.Errorf("failed to encode progress: %w", err)
	}

	key, err := q.store.Put(ctx, store.ProgressQueue, store.Record{Value: b})
	if err != nil {
		return models.ProgressRecord{}, err
	}
	if rec.ID, err = strconv.ParseInt(key, 10, 64); err != nil {
		return models.ProgressRecord{}, fmt.Errorf("unexpected progress key %q: %w", key, err)
	}

	q.logger.Debug(ctx, "progress recorded",
		"id", rec.ID, "course", rec.CourseID, "lesson", rec.LessonID, "percent", rec.ProgressPercent)
	return rec, nil
}

// ListPending returns the tenant's unsynced records in insertion order.
func (q *Queue) ListPending(ctx context.Context, tenantID string) ([]models.ProgressRecord, error) {
	recs, err := q.query(ctx, store.IndexSynced, false)
	if err != nil {
		return nil, err
	}
	return filter(recs, func(r models.ProgressRecord) bool {
		return !r.Synced && r.TenantID == tenantID
	}), nil
}

// CountPending is len(ListPending).
func (q *Queue) CountPending(ctx context.Context, tenantID string) (int, error) {
	recs, err := q.ListPending(ctx, tenantID)
	return len(recs), err
}

// ListByUser returns every record of userID in tenantID, synced or not.
func (q *Queue) ListByUser(ctx context.Context, userID, tenantID string) ([]models.ProgressRecord, error) {
	recs, err := q.query(ctx, store.IndexUserID, userID)
	if err != nil {
		return nil, err
	}
	return filter(recs, func(r models.ProgressRecord) bool {
		return r.UserID == userID && r.TenantID == tenantID
	}), nil
}

// MarkSynced sets the synced flag of record id. Marking an already synced
// record is a no-op.
func (q *Queue) MarkSynced(ctx context.Context, id int64) error {
	key := strconv.FormatInt(id, 10)

	return q.store.Update(ctx, store.ProgressQueue, key, func(cur *store.Record) (*store.Record, error) {
		if cur == nil {
			return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
		}

		rec, err := decode(*cur)
		if err != nil {
			return nil, err
		}
		if rec.Synced {
			return nil, nil
		}

		rec.Synced = true
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode progress: %w", err)
		}
		return &store.Record{Value: b}, nil
	})
}

func (q *Queue) query(ctx context.Context, index string, value any) ([]models.ProgressRecord, error) {
	raw, err := q.store.QueryByIndex(ctx, store.ProgressQueue, index, value)
	if err != nil {
		return nil, err
	}

	out := make([]models.ProgressRecord, 0, len(raw))
	for _, r := range raw {
		rec, err := decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// decode takes the id from the storage key; the document's own id field is
// not authoritative since it is written before the key is assigned.
func decode(r store.Record) (models.ProgressRecord, error) {
	var rec models.ProgressRecord
	if err := json.Unmarshal(r.Value, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode progress[%s]: %w", r.Key, err)
	}
	id, err := strconv.ParseInt(r.Key, 10, 64)
	if err != nil {
		return rec, fmt.Errorf("unexpected progress key %q: %w", r.Key, err)
	}
	rec.ID = id
	return rec, nil
}

func filter(recs []models.ProgressRecord, keep func(models.ProgressRecord) bool) []models.ProgressRecord {
	out := recs[:0]
	for _, r := range recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
