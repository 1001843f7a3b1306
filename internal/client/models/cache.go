// Package models defines the records the client keeps offline and the
// shapes exchanged with the sync service.
package models

import "encoding/json"

// CachedEntry is a generic offline value owned by one tenant.
type CachedEntry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	TenantID string          `json:"tenantId"`

	// WrittenAt and ExpiresAt are Unix milliseconds.
	WrittenAt int64  `json:"writtenAt"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// Expired reports whether the entry must be treated as absent at nowMillis.
func (e CachedEntry) Expired(nowMillis int64) bool {
	return e.ExpiresAt != nil && nowMillis > *e.ExpiresAt
}
