// Package session provides SessionStore implementations: an in-memory map
// for development, Redis for shared caches, an encrypted blob store, and
// Postgres for durable persistence. All stores expire records lazily; an
// expired record is discovered at read time, never by a background sweeper.
package session

import (
	"errors"

	"github.com/offerscout/offerscout/internal/scout"
)

// ErrNotFound is returned by every store when no record exists for the
// owner, including when a stored record has lapsed past its expiry.
var ErrNotFound = errors.New("session not found")

var (
	_ scout.SessionStore = (*MemoryStore)(nil)
	_ scout.SessionStore = (*RedisStore)(nil)
	_ scout.SessionStore = (*BlobStore)(nil)
	_ scout.SessionStore = (*PostgresStore)(nil)
)
