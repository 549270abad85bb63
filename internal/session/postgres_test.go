package session

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/offerscout/offerscout/internal/scout"
)

func TestPostgresStore_PutUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	store, err := NewPostgresStoreWithPool(mock, clock)
	require.NoError(t, err)

	record := activeRecord("alice", clock.Now())

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			record.Owner,
			record.SessionID,
			[]byte(`[{"name":"sid","value":"v"}]`),
			[]byte(`null`),
			record.CreatedAt,
			record.ExpiresAt,
			string(record.Status),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReturnsRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	store, err := NewPostgresStoreWithPool(mock, clock)
	require.NoError(t, err)

	created := clock.Now()
	expires := created.Add(scout.DefaultSessionTTL)
	rows := pgxmock.NewRows([]string{
		"session_id", "owner", "cookies", "fingerprint", "created_at", "expires_at", "status",
	}).AddRow(
		"sess-alice", "alice",
		[]byte(`[{"name":"sid","value":"v"}]`),
		[]byte(`{"ua":"firefox"}`),
		created, expires, "active",
	)
	mock.ExpectQuery("SELECT session_id, owner, cookies").
		WithArgs("alice").
		WillReturnRows(rows)

	record, err := store.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "sess-alice", record.SessionID)
	require.Equal(t, []scout.Cookie{{Name: "sid", Value: "v"}}, record.Cookies)
	require.Equal(t, map[string]string{"ua": "firefox"}, record.Fingerprint)
	require.Equal(t, scout.SessionStatusActive, record.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissingOwner(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	store, err := NewPostgresStoreWithPool(mock, clock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT session_id, owner, cookies").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{
			"session_id", "owner", "cookies", "fingerprint", "created_at", "expires_at", "status",
		}))

	_, err = store.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLapsedRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	store, err := NewPostgresStoreWithPool(mock, clock)
	require.NoError(t, err)

	created := clock.Now().Add(-scout.DefaultSessionTTL - time.Hour)
	mock.ExpectQuery("SELECT session_id, owner, cookies").
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{
			"session_id", "owner", "cookies", "fingerprint", "created_at", "expires_at", "status",
		}).AddRow(
			"sess-old", "alice", []byte(`[]`), []byte(nil),
			created, created.Add(scout.DefaultSessionTTL), "active",
		))

	_, err = store.Get(context.Background(), "alice")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	store, err := NewPostgresStoreWithPool(mock, clock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Delete(context.Background(), "alice"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresStore(context.Background(), PostgresConfig{}, &fakeClock{})
	require.Error(t, err)
}
