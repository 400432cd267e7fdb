// Package boltstore implements the Backend A storage kind from the spec:
// an embedded B-tree (go.etcd.io/bbolt) providing per-tree ACID
// transactions spanning the data and refcount keyspaces of the blob store,
// and the meta/data keyspaces of the session store.
package boltstore

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	bucketBlobData  = []byte("blobdata")
	bucketBlobRef   = []byte("blobrefcount")
	bucketSessMeta  = []byte("sessionmeta")
	bucketSessData  = []byte("sessiondata")
)

// DB owns one bbolt file shared by the Blobs and Sessions stores, matching
// spec.md's "one data directory per backend" layout.
type DB struct {
	bolt *bbolt.DB
}

// Open creates or opens the bbolt file at path and ensures all buckets
// exist.
func Open(path string) (*DB, error) {
	bdb, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketBlobData, bucketBlobRef, bucketSessMeta, bucketSessData} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &DB{bolt: bdb}, nil
}

// Blobs returns a BlobStore backed by this DB.
func (d *DB) Blobs() *Blobs { return &Blobs{db: d.bolt} }

// Sessions returns a SessionStore backed by this DB.
func (d *DB) Sessions() *Sessions { return &Sessions{db: d.bolt} }

// Close closes the underlying bbolt file. Safe to call once all Blobs/
// Sessions handles derived from this DB are done.
func (d *DB) Close() error { return d.bolt.Close() }
