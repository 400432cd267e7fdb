// Package badgerstore implements the Backend B storage kind from the spec:
// a copy-on-write page store (github.com/dgraph-io/badger/v4) whose
// write-transactions open both the data and refcount (or meta and data)
// keyspaces, mutate, and commit atomically.
package badgerstore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixBlobData = "b:"
	prefixBlobRef  = "r:"
	prefixSessMeta = "m:"
	prefixSessData = "d:"
)

// DB owns one badger.DB shared by the Blobs and Sessions stores.
type DB struct {
	badger *badger.DB
}

// Open creates or opens the badger directory at path.
func Open(path string) (*DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", path, err)
	}
	return &DB{badger: bdb}, nil
}

// Blobs returns a BlobStore backed by this DB.
func (d *DB) Blobs() *Blobs { return &Blobs{db: d.badger} }

// Sessions returns a SessionStore backed by this DB.
func (d *DB) Sessions() *Sessions { return &Sessions{db: d.badger} }

func (d *DB) Close() error { return d.badger.Close() }

func blobDataKey(id []byte) []byte { return append([]byte(prefixBlobData), id...) }
func blobRefKey(id []byte) []byte  { return append([]byte(prefixBlobRef), id...) }
func sessMetaKey(id []byte) []byte { return append([]byte(prefixSessMeta), id...) }
func sessDataKey(id []byte) []byte { return append([]byte(prefixSessData), id...) }
