package models

// CourseSummary is a course as returned by the sync service.
type CourseSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	LessonCount int    `json:"lessonCount"`
}

// AgendaItem is a scheduled activity as returned by the sync service.
type AgendaItem struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Title    string `json:"title"`
	Date     string `json:"date"` // YYYY-MM-DD
	StartsAt string `json:"startsAt,omitempty"`
	Location string `json:"location,omitempty"`
}

// CachedCourse is a CourseSummary as stored in the local cache.
// CachedAt is Unix milliseconds.
type CachedCourse struct {
	CourseSummary
	TenantID string `json:"tenantId"`
	CachedAt int64  `json:"cachedAt"`
}

// CachedAgendaItem is an AgendaItem as stored in the local cache.
type CachedAgendaItem struct {
	AgendaItem
	TenantID string `json:"tenantId"`
	CachedAt int64  `json:"cachedAt"`
}

func (c CachedCourse) Tenant() string   { return c.TenantID }
func (c CachedCourse) CacheKey() string { return c.TenantID + ":" + c.ID }

func (a CachedAgendaItem) Tenant() string   { return a.TenantID }
func (a CachedAgendaItem) CacheKey() string { return a.TenantID + ":" + a.ID }
