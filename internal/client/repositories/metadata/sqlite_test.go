package metadata

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/churchkeeper/internal/client/store"
	"github.com/dmitrijs2005/churchkeeper/internal/dbx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	st, err := store.Open(context.Background(), store.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st.DB()
}

func TestRepository_SetGetDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	v, err := r.Get(ctx, KeyActiveTenant)
	require.NoError(t, err)
	assert.Nil(t, v, "missing key reads as nil")

	require.NoError(t, r.Set(ctx, KeyActiveTenant, []byte("t1")))
	require.NoError(t, r.Set(ctx, KeyActiveTenant, []byte("t2")))

	v, err = r.Get(ctx, KeyActiveTenant)
	require.NoError(t, err)
	assert.Equal(t, []byte("t2"), v, "set overwrites")

	require.NoError(t, r.Delete(ctx, KeyActiveTenant))
	require.NoError(t, r.Delete(ctx, KeyActiveTenant), "delete is idempotent")

	v, err = r.Get(ctx, KeyActiveTenant)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRepository_NilValueStoredEmpty(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeyInstallState, nil))

	v, err := r.Get(ctx, KeyInstallState)
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)
}

func TestRepository_InsideTransaction(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := NewSQLiteRepository(tx).Set(ctx, KeyActiveUser, []byte("u1")); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	v, err := NewSQLiteRepository(db).Get(ctx, KeyActiveUser)
	require.NoError(t, err)
	assert.Nil(t, v, "rolled back with the transaction")
}

func TestRepository_DriverErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	boom := errors.New("disk I/O error")
	mock.ExpectQuery(`SELECT value FROM metadata`).WithArgs("k").WillReturnError(boom)
	mock.ExpectExec(`INSERT INTO metadata`).WithArgs("k", []byte("v")).WillReturnError(boom)
	mock.ExpectExec(`DELETE FROM metadata`).WithArgs("k").WillReturnError(boom)

	r := NewSQLiteRepository(db)
	ctx := context.Background()

	_, err = r.Get(ctx, "k")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `metadata get "k"`)

	err = r.Set(ctx, "k", []byte("v"))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `metadata set "k"`)

	err = r.Delete(ctx, "k")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `metadata delete "k"`)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyHelpers(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	s, err := GetString(ctx, r, KeyActiveTenant)
	require.NoError(t, err)
	assert.Empty(t, s)

	require.NoError(t, SetString(ctx, r, KeyActiveTenant, "t1"))
	s, err = GetString(ctx, r, KeyActiveTenant)
	require.NoError(t, err)
	assert.Equal(t, "t1", s)

	key := RefreshedAtKey("courses_cache", "t1")
	assert.Equal(t, "refreshed_at:courses_cache:t1", key)

	_, ok, err := GetInt64(ctx, r, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetInt64(ctx, r, key, 1700000000000))
	v, ok, err := GetInt64(ctx, r, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 1700000000000, v)

	require.NoError(t, SetString(ctx, r, key, "not a number"))
	_, ok, err = GetInt64(ctx, r, key)
	require.NoError(t, err)
	assert.False(t, ok, "garbage reads as missing")
}

func TestDeviceID_GeneratedOnceAndStable(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	id1, err := DeviceID(ctx, r)
	require.NoError(t, err)
	_, err = uuid.Parse(id1)
	require.NoError(t, err)

	id2, err := DeviceID(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
