// Package readthrough keeps tenant-scoped copies of remote listings
// (courses, agenda) that are replaced wholesale on every successful refresh.
package readthrough

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
)

// Store is the subset of *store.Store the caches use.
type Store interface {
	QueryByIndex(ctx context.Context, collection, index string, value any) ([]store.Record, error)
	Replace(ctx context.Context, collection, index string, value any, records []store.Record, also ...dbx.TxFunc) error
}

// Item is a cached document that knows its tenant and storage key.
type Item interface {
	Tenant() string
	CacheKey() string
}

type Cache[T Item] struct {
	store      Store
	meta       metadata.Repository
	collection string
}

func New[T Item](st Store, meta metadata.Repository, collection string) *Cache[T] {
	return &Cache[T]{store: st, meta: meta, collection: collection}
}

// Load returns every cached item of tenantID. Items whose tenant field does
// not match are skipped even if the index says otherwise.
func (c *Cache[T]) Load(ctx context.Context, tenantID string) ([]T, error) {
	recs, err := c.store.QueryByIndex(ctx, c.collection, store.IndexTenantID, tenantID)
	if err != nil {
		return nil, err
	}

	items := make([]T, 0, len(recs))
	for _, r := range recs {
		var item T
		if err := json.Unmarshal(r.Value, &item); err != nil {
			return nil, fmt.Errorf("failed to decode %s[%s]: %w", c.collection, r.Key, err)
		}
		if item.Tenant() != tenantID {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Replace swaps the tenant's cached items for items and advances the
// refresh marker to at, in one transaction. Items belonging to another
// tenant are rejected. Any check failing inside the transaction leaves both
// the items and the marker untouched.
func (c *Cache[T]) Replace(ctx context.Context, tenantID string, items []T, at time.Time, checks ...dbx.TxFunc) error {
	recs := make([]store.Record, 0, len(items))
	for _, item := range items {
		if item.Tenant() != tenantID {
			return fmt.Errorf("%s: item %s belongs to tenant %q, not %q",
				c.collection, item.CacheKey(), item.Tenant(), tenantID)
		}
		b, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode %s[%s]: %w", c.collection, item.CacheKey(), err)
		}
		recs = append(recs, store.Record{Key: item.CacheKey(), Value: b})
	}

	marker := func(ctx context.Context, tx dbx.DBTX) error {
		return metadata.SetInt64(ctx, metadata.NewSQLiteRepository(tx), metadata.RefreshedAtKey(c.collection, tenantID), at.UnixMilli())
	}
	return c.store.Replace(ctx, c.collection, store.IndexTenantID, tenantID, recs, append(checks[:len(checks):len(checks)], marker)...)
}

// RefreshedAt reports when the tenant's copy was last replaced.
func (c *Cache[T]) RefreshedAt(ctx context.Context, tenantID string) (time.Time, bool, error) {
	ms, ok, err := metadata.GetInt64(ctx, c.meta, metadata.RefreshedAtKey(c.collection, tenantID))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
