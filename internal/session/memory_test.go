package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offerscout/offerscout/internal/scout"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func activeRecord(owner string, now time.Time) scout.SessionRecord {
	return scout.SessionRecord{
		SessionID: "sess-" + owner,
		Owner:     owner,
		Cookies:   []scout.Cookie{{Name: "sid", Value: "v"}},
		CreatedAt: now,
		ExpiresAt: now.Add(scout.DefaultSessionTTL),
		Status:    scout.SessionStatusActive,
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(clock)
	ctx := context.Background()

	_, err := store.Get(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	record := activeRecord("alice", clock.Now())
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, record, got)

	require.NoError(t, store.Delete(ctx, "alice"))
	_, err = store.Get(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(clock)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, activeRecord("alice", clock.Now())))
	require.Equal(t, 1, store.Len())

	clock.Advance(scout.DefaultSessionTTL + time.Minute)

	// The read that discovers expiry also evicts the record.
	_, err := store.Get(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, store.Len())
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(clock)
	ctx := context.Background()

	first := activeRecord("alice", clock.Now())
	require.NoError(t, store.Put(ctx, first))

	second := first
	second.SessionID = "sess-alice-2"
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "sess-alice-2", got.SessionID)
	require.Equal(t, 1, store.Len())
}
