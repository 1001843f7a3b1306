package readthrough

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*store.Store, metadata.Repository) {
	t.Helper()
	s, err := store.Open(context.Background(), store.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, metadata.NewSQLiteRepository(s.DB())
}

func TestCourses_ReplaceAndList(t *testing.T) {
	st, meta := setup(t)
	c := NewCourses(st, meta)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, c.Replace(ctx, "t1", []models.CourseSummary{
		{ID: "2", Title: "Prayer"},
		{ID: "1", Title: "Foundations"},
	}, at))
	require.NoError(t, c.Replace(ctx, "t2", []models.CourseSummary{{ID: "1", Title: "Other church"}}, at))

	got, err := c.List(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []models.CourseSummary{{ID: "1", Title: "Foundations"}, {ID: "2", Title: "Prayer"}}, got)

	when, ok, err := c.RefreshedAt(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, when.Equal(at))

	require.NoError(t, c.Replace(ctx, "t1", []models.CourseSummary{{ID: "3", Title: "New"}}, at.Add(time.Minute)))
	got, err = c.List(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []models.CourseSummary{{ID: "3", Title: "New"}}, got)

	other, err := c.List(ctx, "t2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestCourses_NeverRefreshed(t *testing.T) {
	st, meta := setup(t)
	c := NewCourses(st, meta)

	got, err := c.List(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok, err := c.RefreshedAt(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAgenda_FiltersByUserAndOrdersByDate(t *testing.T) {
	st, meta := setup(t)
	a := NewAgenda(st, meta)
	ctx := context.Background()

	require.NoError(t, a.Replace(ctx, "u1", "t1", []models.AgendaItem{
		{ID: "b", Title: "Youth", Date: "2026-10-20"},
		{ID: "a", Title: "Choir", Date: "2026-10-18", StartsAt: "19:00"},
		{ID: "c", UserID: "u2", Title: "Someone else", Date: "2026-10-01"},
	}, time.Now()))

	got, err := a.List(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "u1", got[1].UserID)
}

// mislabeled returns a record indexed under t1 whose document says t2.
type mislabeled struct{ Store }

func (m mislabeled) QueryByIndex(context.Context, string, string, any) ([]store.Record, error) {
	return []store.Record{
		{Key: "t1:x", Value: []byte(`{"id":"x","tenantId":"t2"}`)},
		{Key: "t1:y", Value: []byte(`{"id":"y","tenantId":"t1"}`)},
	}, nil
}

func TestCache_Load_ChecksTenantField(t *testing.T) {
	_, meta := setup(t)
	c := New[models.CachedCourse](mislabeled{}, meta, store.CoursesCache)

	got, err := c.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "y", got[0].ID)
}

func TestCache_Replace_RejectsForeignTenant(t *testing.T) {
	st, meta := setup(t)
	c := New[models.CachedCourse](st, meta, store.CoursesCache)

	err := c.Replace(context.Background(), "t1", []models.CachedCourse{{TenantID: "t2"}}, time.Now())
	require.Error(t, err)

	_, ok, err := c.RefreshedAt(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingReplace struct{ Store }

func (failingReplace) Replace(context.Context, string, string, any, []store.Record, ...dbx.TxFunc) error {
	return store.ErrWriteFailed
}

func TestCache_Replace_FailureKeepsMarker(t *testing.T) {
	_, meta := setup(t)
	ctx := context.Background()
	require.NoError(t, metadata.SetInt64(ctx, meta, metadata.RefreshedAtKey(store.CoursesCache, "t1"), 10))

	c := New[models.CachedCourse](failingReplace{}, meta, store.CoursesCache)
	err := c.Replace(ctx, "t1", nil, time.UnixMilli(99))
	assert.True(t, errors.Is(err, store.ErrWriteFailed))

	when, ok, err := c.RefreshedAt(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 10, when.UnixMilli())
}

func TestCache_Replace_CheckVetoesWrite(t *testing.T) {
	st, meta := setup(t)
	c := NewCourses(st, meta)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, c.Replace(ctx, "t1", []models.CourseSummary{{ID: "1", Title: "Old"}}, at))

	veto := errors.New("tenant moved on")
	err := c.Replace(ctx, "t1", []models.CourseSummary{{ID: "2", Title: "New"}}, at.Add(time.Hour),
		func(context.Context, dbx.DBTX) error { return veto })
	require.ErrorIs(t, err, veto)
	assert.False(t, errors.Is(err, store.ErrWriteFailed))

	got, err := c.List(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []models.CourseSummary{{ID: "1", Title: "Old"}}, got)

	when, ok, err := c.RefreshedAt(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, when.Equal(at), "marker stays with the rolled back refresh")
}
