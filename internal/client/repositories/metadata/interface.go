// Package metadata is the durable key/value table for client-wide state:
// the active tenant pointer, the device id, install and notification state,
// and cache refresh markers.
package metadata

import (
	"context"
)

// Repository stores opaque values by key. Get returns nil, nil for a
// missing key; Delete of a missing key is not an error.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
