package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offerscout/offerscout/internal/scout"
	"github.com/offerscout/offerscout/internal/securebox"
	"github.com/offerscout/offerscout/internal/storage"
)

// BlobStore persists session records as encrypted JSON objects in a blob
// store. Records carry cookies and fingerprints, so nothing leaves the
// process unsealed.
type BlobStore struct {
	blobs  storage.BlobStore
	box    *securebox.Box
	clock  scout.Clock
	prefix string
}

// NewBlobStore builds a store writing under prefix in blobs.
func NewBlobStore(blobs storage.BlobStore, box *securebox.Box, clock scout.Clock, prefix string) *BlobStore {
	if prefix == "" {
		prefix = "sessions"
	}
	return &BlobStore{blobs: blobs, box: box, clock: clock, prefix: prefix}
}

func (s *BlobStore) path(owner string) string {
	return fmt.Sprintf("%s/%s.bin", s.prefix, owner)
}

// Get loads and unseals the owner's record. A lapsed record is deleted and
// reported as absent.
func (s *BlobStore) Get(ctx context.Context, owner string) (scout.SessionRecord, error) {
	sealed, err := s.blobs.GetObject(ctx, s.path(owner))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return scout.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return scout.SessionRecord{}, fmt.Errorf("load session blob: %w", err)
	}

	plaintext, err := s.box.Open(sealed)
	if err != nil {
		return scout.SessionRecord{}, fmt.Errorf("unseal session blob: %w", err)
	}
	var record scout.SessionRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return scout.SessionRecord{}, fmt.Errorf("decode session record: %w", err)
	}
	if !s.clock.Now().Before(record.ExpiresAt) {
		_ = s.blobs.DeleteObject(ctx, s.path(owner))
		return scout.SessionRecord{}, ErrNotFound
	}
	return record, nil
}

// Put seals and stores the record.
func (s *BlobStore) Put(ctx context.Context, record scout.SessionRecord) error {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	sealed, err := s.box.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal session record: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, s.path(record.Owner), "application/octet-stream", sealed); err != nil {
		return fmt.Errorf("store session blob: %w", err)
	}
	return nil
}

// Delete removes the owner's record.
func (s *BlobStore) Delete(ctx context.Context, owner string) error {
	if err := s.blobs.DeleteObject(ctx, s.path(owner)); err != nil {
		return fmt.Errorf("delete session blob: %w", err)
	}
	return nil
}
