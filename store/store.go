// Package store defines the BlobStore and SessionStore contracts shared by
// both storage backends (boltstore, badgerstore). A backend implements
// both interfaces against one on-disk data directory or file.
package store

import (
	"context"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
)

// BlobStore is a content-addressed, reference-counted byte store. Every
// mutation crosses the data and refcount keyspaces in one transaction.
type BlobStore interface {
	// Save writes a payload, deduplicating by content hash: if the hash is
	// already present its refcount is incremented instead of storing a
	// second copy.
	Save(ctx context.Context, data []byte) (asset.ID, error)

	// Get reads the full payload for id. Returns ember.ErrNotFound if absent.
	Get(ctx context.Context, id asset.ID) ([]byte, error)

	// Peek returns up to n leading bytes of the payload plus its total
	// length, without reading the whole value. Returns ember.ErrNotFound if
	// absent.
	Peek(ctx context.Context, id asset.ID, n int) (prefix []byte, total int, err error)

	// Retain increments id's refcount, creating a counter of 1 if the blob
	// has no existing reference count entry.
	Retain(ctx context.Context, id asset.ID) error

	// Release decrements id's refcount. If it reaches zero, the data and
	// counter are erased and deleted reports true.
	Release(ctx context.Context, id asset.ID) (deleted bool, err error)

	Close() error
}

// SessionStore persists ChatEntry records keyed by SessionID, plus the
// lightweight ChatMeta projection used for history listing.
type SessionStore interface {
	// Append mints a new time-ordered SessionID, inserts meta and data
	// atomically, and retries on id collision up to 10 times.
	Append(ctx context.Context, meta ember.ChatMeta, entry ember.ChatEntry) (ember.SessionID, error)

	// Update overwrites both the meta and data rows for id atomically.
	Update(ctx context.Context, id ember.SessionID, meta ember.ChatMeta, entry ember.ChatEntry) error

	GetMeta(ctx context.Context, id ember.SessionID) (ember.ChatMeta, error)
	GetData(ctx context.Context, id ember.SessionID) (ember.ChatEntry, error)

	// List returns ChatMeta in reverse creation order (newest first), paged
	// by limit/offset.
	List(ctx context.Context, limit, offset int) ([]ember.ChatMeta, error)

	// Delete removes both rows for id and returns the entry that was
	// stored, so the caller can release blobs it referenced.
	Delete(ctx context.Context, id ember.SessionID) (ember.ChatEntry, error)

	// UpdateDataWith performs a read-modify-write under one transaction:
	// fn receives the current meta/data and returns the replacement; a
	// non-nil error aborts the transaction with no effect.
	UpdateDataWith(ctx context.Context, id ember.SessionID, fn func(ember.ChatMeta, ember.ChatEntry) (ember.ChatMeta, ember.ChatEntry, error)) error

	Close() error
}

// Backend names the two selectable storage kinds (spec.md's configuration
// enum), resolved at startup.
type Backend string

const (
	BackendBolt   Backend = "boltdb"
	BackendBadger Backend = "badger"
)
