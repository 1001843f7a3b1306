package dbx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	st, err := store.Open(context.Background(), store.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st.DB()
}

func setMarker(ctx context.Context, q dbx.DBTX, key string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO metadata (key, value) VALUES (?, x'01')`, key)
	return err
}

func markers(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM metadata`).Scan(&n))
	return n
}

func TestWithTx(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		fn      func(ctx context.Context, tx dbx.DBTX) error
		wantErr error
		want    int
	}{
		{
			name: "commits on success",
			fn: func(ctx context.Context, tx dbx.DBTX) error {
				if err := setMarker(ctx, tx, "a"); err != nil {
					return err
				}
				return setMarker(ctx, tx, "b")
			},
			want: 2,
		},
		{
			name: "rolls back when fn fails",
			fn: func(ctx context.Context, tx dbx.DBTX) error {
				if err := setMarker(ctx, tx, "a"); err != nil {
					return err
				}
				return boom
			},
			wantErr: boom,
		},
		{
			name: "rolls back a failed statement with the rest",
			fn: func(ctx context.Context, tx dbx.DBTX) error {
				if err := setMarker(ctx, tx, "a"); err != nil {
					return err
				}
				return setMarker(ctx, tx, "a")
			},
			wantErr: errAny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openDB(t)
			err := dbx.WithTx(context.Background(), db, nil, tt.fn)
			switch tt.wantErr {
			case nil:
				require.NoError(t, err)
			case errAny:
				require.Error(t, err)
			default:
				require.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.want, markers(t, db))
		})
	}
}

var errAny = errors.New("any error")

func TestWithTx_PanicRollsBackAndPropagates(t *testing.T) {
	db := openDB(t)

	assert.PanicsWithValue(t, "kaput", func() {
		_ = dbx.WithTx(context.Background(), db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			require.NoError(t, setMarker(ctx, tx, "a"))
			panic("kaput")
		})
	})
	assert.Zero(t, markers(t, db))
}

func TestWithTx_BeginError(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Close())

	called := false
	err := dbx.WithTx(context.Background(), db, nil, func(context.Context, dbx.DBTX) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestWithTx_CommitError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM courses_cache").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err = dbx.WithTx(context.Background(), db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM courses_cache WHERE tenant_id = ?", "t1")
		return err
	})
	require.ErrorContains(t, err, "database is locked")
	require.NoError(t, mock.ExpectationsWereMet())
}
