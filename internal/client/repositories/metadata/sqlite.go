package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
)

const (
	selectValue = `SELECT value FROM metadata WHERE key = ?`
	upsertValue = `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	deleteValue = `DELETE FROM metadata WHERE key = ?`
)

// SQLiteRepository keeps metadata in the store's metadata table. It works
// on a plain connection or inside a transaction.
type SQLiteRepository struct {
	q dbx.DBTX
}

func NewSQLiteRepository(q dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{q: q}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	switch err := r.q.QueryRowContext(ctx, selectValue, key).Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, wrap("get", key, err)
	}
	return value, nil
}

// Set stores value under key. A nil value is stored as empty, since the
// column is NOT NULL.
func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := r.q.ExecContext(ctx, upsertValue, key, value); err != nil {
		return wrap("set", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.q.ExecContext(ctx, deleteValue, key); err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

func wrap(op, key string, err error) error {
	return fmt.Errorf("metadata %s %q: %w", op, key, err)
}
