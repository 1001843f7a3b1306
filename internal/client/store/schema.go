package store

import "fmt"

// Collection names.
const (
	OfflineData   = "offline_data"
	ProgressQueue = "progress_queue"
	CoursesCache  = "courses_cache"
	AgendaCache   = "agenda_cache"
)

// Index names. They double as the document field the value is read from.
const (
	IndexTenantID  = "tenantId"
	IndexWrittenAt = "writtenAt"
	IndexUserID    = "userId"
	IndexCourseID  = "courseId"
	IndexSynced    = "synced"
	IndexCachedAt  = "cachedAt"
	IndexDate      = "date"
)

type index struct {
	name   string
	column string
}

type collection struct {
	table         string
	keyColumn     string
	autoIncrement bool
	indexes       []index
}

func (c collection) index(name string) (index, error) {
	for _, idx := range c.indexes {
		if idx.name == name {
			return idx, nil
		}
	}
	return index{}, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, c.table, name)
}

// Tables themselves are created by the embedded migrations; this registry
// must agree with them.
var collections = map[string]collection{
	OfflineData: {
		table:     OfflineData,
		keyColumn: "key",
		indexes: []index{
			{IndexTenantID, "tenant_id"},
			{IndexWrittenAt, "written_at"},
		},
	},
	ProgressQueue: {
		table:         ProgressQueue,
		keyColumn:     "id",
		autoIncrement: true,
		indexes: []index{
			{IndexUserID, "user_id"},
			{IndexCourseID, "course_id"},
			{IndexSynced, "synced"},
			{IndexTenantID, "tenant_id"},
			{IndexWrittenAt, "written_at"},
		},
	},
	CoursesCache: {
		table:     CoursesCache,
		keyColumn: "id",
		indexes: []index{
			{IndexTenantID, "tenant_id"},
			{IndexCachedAt, "cached_at"},
		},
	},
	AgendaCache: {
		table:     AgendaCache,
		keyColumn: "id",
		indexes: []index{
			{IndexUserID, "user_id"},
			{IndexTenantID, "tenant_id"},
			{IndexDate, "date"},
		},
	},
}

func lookup(name string) (collection, error) {
	c, ok := collections[name]
	if !ok {
		return collection{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

// collectionNames returns the names of all collections.
func collectionNames() []string {
	return []string{OfflineData, ProgressQueue, CoursesCache, AgendaCache}
}
