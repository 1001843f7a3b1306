package store

import "errors"

var (
	// ErrStorageUnavailable means the database could not be opened or
	// migrated. The application falls back to online-only operation.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrWriteFailed wraps every failed write (quota, I/O, constraint).
	ErrWriteFailed = errors.New("local write failed")

	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownIndex      = errors.New("unknown index")
	ErrInvalidKey        = errors.New("invalid record key")
	ErrInvalidDocument   = errors.New("record value is not a JSON object")
)
