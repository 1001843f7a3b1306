package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
	"github.com/dmitrijs2005/churchkeeper/internal/logging"
)

// Record is one stored document. Key is empty on insert into an
// auto-increment collection; the assigned id is returned by Put.
type Record struct {
	Key   string
	Value json.RawMessage
}

// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if needed) the database at path and initializes it.
// Any failure is reported as ErrStorageUnavailable.
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, path, err)
	}

	s := New(db, logger)
	if err := s.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Debug(ctx, "local store opened", "path", path)
	return s, nil
}

// New wraps an already opened database without touching its schema.
func New(db *sql.DB, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{db: db, logger: logger.With("module", "store")}
}

// Initialize creates every collection and index. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, s.db); err != nil {
		return fmt.Errorf("%w: migrate: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// DB exposes the underlying handle for repositories sharing the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces rec and returns its key.
func (s *Store) Put(ctx context.Context, name string, rec Record) (string, error) {
	c, err := lookup(name)
	if err != nil {
		return "", err
	}

	key, err := put(ctx, s.db, c, rec)
	if err != nil {
		s.logWriteFailure(ctx, "put", c, err)
		return "", err
	}
	return key, nil
}

// Get returns the record stored under key, or nil, nil if there is none.
func (s *Store) Get(ctx context.Context, name, key string) (*Record, error) {
	c, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return get(ctx, s.db, c, key)
}

// QueryByIndex returns every record whose index equals value.
// Order is not guaranteed.
func (s *Store) QueryByIndex(ctx context.Context, name, indexName string, value any) ([]Record, error) {
	c, err := lookup(name)
	if err != nil {
		return nil, err
	}
	idx, err := c.index(indexName)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT %s, value FROM %s WHERE %s = ?`,
		quote(c.keyColumn), quote(c.table), quote(idx.column))

	rows, err := s.db.QueryContext(ctx, q, normalizeArg(value))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", c.table, idx.name, err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var r Record
		var value []byte
		if err := rows.Scan(&r.Key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", c.table, err)
		}
		r.Value = value
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", c.table, err)
	}
	return result, nil
}

// Delete removes the record under key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, name, key string) error {
	c, err := lookup(name)
	if err != nil {
		return err
	}
	k, err := keyArg(c, key)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, quote(c.table), quote(c.keyColumn))
	if _, err := s.db.ExecContext(ctx, q, k); err != nil {
		err = writeErr("delete", c, err)
		s.logWriteFailure(ctx, "delete", c, err)
		return err
	}
	return nil
}

// DeleteWhere removes every record whose index equals value and reports how
// many were removed.
func (s *Store) DeleteWhere(ctx context.Context, name, indexName string, value any) (int64, error) {
	c, err := lookup(name)
	if err != nil {
		return 0, err
	}
	idx, err := c.index(indexName)
	if err != nil {
		return 0, err
	}

	n, err := deleteWhere(ctx, s.db, c, idx, value)
	if err != nil {
		s.logWriteFailure(ctx, "delete", c, err)
		return 0, err
	}
	return n, nil
}

// Update reads the record under key, passes it to fn (nil if absent) and
// writes back what fn returns, all in one transaction. Returning a nil
// record leaves the collection unchanged. Errors from fn are returned as is.
func (s *Store) Update(ctx context.Context, name, key string, fn func(cur *Record) (*Record, error)) error {
	c, err := lookup(name)
	if err != nil {
		return err
	}

	var fnErr error
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		cur, err := get(ctx, tx, c, key)
		if err != nil {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil {
			return nil
		}

		next.Key = key
		_, err = put(ctx, tx, c, *next)
		return err
	})

	switch {
	case err == nil, fnErr != nil:
		return err
	case errors.Is(err, ErrWriteFailed), errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidDocument):
	default:
		err = writeErr("update", c, err)
	}
	s.logWriteFailure(ctx, "update", c, err)
	return err
}

// Replace deletes every record whose index equals value and inserts records
// in their place, in one transaction. Either all of it applies or none.
//
// Each fn in also runs inside the same transaction before the records are
// touched. An error from one of them aborts the replace and is returned as
// is, so a caller can veto the write or commit related rows atomically.
func (s *Store) Replace(ctx context.Context, name, indexName string, value any, records []Record, also ...dbx.TxFunc) error {
	c, err := lookup(name)
	if err != nil {
		return err
	}
	idx, err := c.index(indexName)
	if err != nil {
		return err
	}

	var alsoErr error
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, fn := range also {
			if err := fn(ctx, tx); err != nil {
				alsoErr = err
				return err
			}
		}
		if _, err := deleteWhere(ctx, tx, c, idx, value); err != nil {
			return err
		}
		for _, r := range records {
			if _, err := put(ctx, tx, c, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil || alsoErr != nil {
		return err
	}

	if !errors.Is(err, ErrWriteFailed) && !errors.Is(err, ErrInvalidKey) && !errors.Is(err, ErrInvalidDocument) {
		err = writeErr("replace", c, err)
	}
	s.logWriteFailure(ctx, "replace", c, err)
	return err
}

func (s *Store) logWriteFailure(ctx context.Context, op string, c collection, err error) {
	s.logger.Warn(ctx, "local write failed", "op", op, "collection", c.table, "error", err)
}

func put(ctx context.Context, q dbx.DBTX, c collection, rec Record) (string, error) {
	values, err := indexValues(c, rec.Value)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", c.table, err)
	}

	cols := make([]string, 0, len(c.indexes)+2)
	args := make([]any, 0, len(c.indexes)+2)

	if rec.Key != "" {
		k, err := keyArg(c, rec.Key)
		if err != nil {
			return "", err
		}
		cols = append(cols, quote(c.keyColumn))
		args = append(args, k)
	} else if !c.autoIncrement {
		return "", fmt.Errorf("put %s: %w: empty key", c.table, ErrInvalidKey)
	}

	for i, idx := range c.indexes {
		cols = append(cols, quote(idx.column))
		args = append(args, values[i])
	}
	cols = append(cols, "value")
	args = append(args, []byte(rec.Value))

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quote(c.table), strings.Join(cols, ", "), placeholders(len(cols)))

	if rec.Key != "" {
		sets := make([]string, 0, len(cols)-1)
		for _, col := range cols[1:] {
			sets = append(sets, col+" = excluded."+col)
		}
		stmt += fmt.Sprintf(` ON CONFLICT(%s) DO UPDATE SET %s`, quote(c.keyColumn), strings.Join(sets, ", "))
	}

	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return "", writeErr("put", c, err)
	}

	if rec.Key != "" {
		return rec.Key, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", writeErr("put", c, err)
	}
	return strconv.FormatInt(id, 10), nil
}

func get(ctx context.Context, q dbx.DBTX, c collection, key string) (*Record, error) {
	k, err := keyArg(c, key)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`SELECT value FROM %s WHERE %s = ?`, quote(c.table), quote(c.keyColumn))

	var value []byte
	err = q.QueryRowContext(ctx, stmt, k).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", c.table, key, err)
	}
	return &Record{Key: key, Value: value}, nil
}

func deleteWhere(ctx context.Context, q dbx.DBTX, c collection, idx index, value any) (int64, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, quote(c.table), quote(idx.column))

	res, err := q.ExecContext(ctx, stmt, normalizeArg(value))
	if err != nil {
		return 0, writeErr("delete", c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, writeErr("delete", c, err)
	}
	return n, nil
}

func writeErr(op string, c collection, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, c.table, ErrWriteFailed, err)
}

func keyArg(c collection, key string) (any, error) {
	if key == "" {
		return nil, fmt.Errorf("%s: %w: empty key", c.table, ErrInvalidKey)
	}
	if !c.autoIncrement {
		return key, nil
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %q is not numeric", c.table, ErrInvalidKey, key)
	}
	return id, nil
}

// indexValues reads each declared index from the top-level fields of the
// document. Missing fields are stored as NULL.
func indexValues(c collection, value json.RawMessage) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return nil, ErrInvalidDocument
	}

	out := make([]any, len(c.indexes))
	for i, idx := range c.indexes {
		out[i] = normalizeField(doc[idx.name])
	}
	return out, nil
}

func normalizeField(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return boolInt(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// normalizeArg maps query values onto the representation used by
// normalizeField, so that QueryByIndex(..., "synced", false) matches.
func normalizeArg(v any) any {
	if b, ok := v.(bool); ok {
		return boolInt(b)
	}
	return v
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
