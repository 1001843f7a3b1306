package readthrough

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
)

// Courses caches the course list per tenant.
type Courses struct {
	cache *Cache[models.CachedCourse]
}

func NewCourses(st Store, meta metadata.Repository) *Courses {
	return &Courses{cache: New[models.CachedCourse](st, meta, store.CoursesCache)}
}

// List returns the cached courses of tenantID ordered by title.
func (c *Courses) List(ctx context.Context, tenantID string) ([]models.CourseSummary, error) {
	items, err := c.cache.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]models.CourseSummary, 0, len(items))
	for _, it := range items {
		out = append(out, it.CourseSummary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c *Courses) Replace(ctx context.Context, tenantID string, courses []models.CourseSummary, at time.Time, checks ...dbx.TxFunc) error {
	items := make([]models.CachedCourse, 0, len(courses))
	for _, cs := range courses {
		items = append(items, models.CachedCourse{CourseSummary: cs, TenantID: tenantID, CachedAt: at.UnixMilli()})
	}
	return c.cache.Replace(ctx, tenantID, items, at, checks...)
}

func (c *Courses) RefreshedAt(ctx context.Context, tenantID string) (time.Time, bool, error) {
	return c.cache.RefreshedAt(ctx, tenantID)
}

// Agenda caches the active user's agenda per tenant. A refresh replaces the
// tenant's whole agenda, so only the most recently refreshed user is kept.
type Agenda struct {
	cache *Cache[models.CachedAgendaItem]
}

func NewAgenda(st Store, meta metadata.Repository) *Agenda {
	return &Agenda{cache: New[models.CachedAgendaItem](st, meta, store.AgendaCache)}
}

// List returns userID's cached agenda in tenantID ordered by date and start.
func (a *Agenda) List(ctx context.Context, userID, tenantID string) ([]models.AgendaItem, error) {
	items, err := a.cache.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]models.AgendaItem, 0, len(items))
	for _, it := range items {
		if it.UserID == userID {
			out = append(out, it.AgendaItem)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartsAt != out[j].StartsAt {
			return out[i].StartsAt < out[j].StartsAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (a *Agenda) Replace(ctx context.Context, userID, tenantID string, agenda []models.AgendaItem, at time.Time, checks ...dbx.TxFunc) error {
	items := make([]models.CachedAgendaItem, 0, len(agenda))
	for _, it := range agenda {
		if it.UserID == "" {
			it.UserID = userID
		}
		items = append(items, models.CachedAgendaItem{AgendaItem: it, TenantID: tenantID, CachedAt: at.UnixMilli()})
	}
	return a.cache.Replace(ctx, tenantID, items, at, checks...)
}

func (a *Agenda) RefreshedAt(ctx context.Context, tenantID string) (time.Time, bool, error) {
	return a.cache.RefreshedAt(ctx, tenantID)
}
