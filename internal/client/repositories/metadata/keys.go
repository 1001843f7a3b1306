package metadata

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

// Well-known keys.
const (
	KeyActiveTenant           = "active_tenant"
	KeyActiveUser             = "active_user"
	KeyDeviceID               = "device_id"
	KeyInstallState           = "install_state"
	KeyNotificationPermission = "notification_permission"
)

// RefreshedAtKey is the marker holding the last successful refresh of
// collection for tenantID, in Unix milliseconds.
func RefreshedAtKey(collection, tenantID string) string {
	return "refreshed_at:" + collection + ":" + tenantID
}

// GetString returns the value under key as a string, "" when missing.
func GetString(ctx context.Context, r Repository, key string) (string, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func SetString(ctx context.Context, r Repository, key, value string) error {
	return r.Set(ctx, key, []byte(value))
}

// GetInt64 returns the decimal value under key. ok is false when the key is
// missing or does not hold a number.
func GetInt64(ctx context.Context, r Repository, key string) (v int64, ok bool, err error) {
	s, err := GetString(ctx, r, key)
	if err != nil || s == "" {
		return 0, false, err
	}
	v, perr := strconv.ParseInt(s, 10, 64)
	if perr != nil {
		return 0, false, nil
	}
	return v, true, nil
}

func SetInt64(ctx context.Context, r Repository, key string, v int64) error {
	return r.Set(ctx, key, []byte(strconv.FormatInt(v, 10)))
}

// DeviceID returns the per-installation id, generating and storing a new
// one on first use.
func DeviceID(ctx context.Context, r Repository) (string, error) {
	id, err := GetString(ctx, r, KeyDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := SetString(ctx, r, KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
