package boltstore

import (
	"context"
	"encoding/binary"

	"go.etcd.io/bbolt"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
)

// Blobs implements store.BlobStore using one bbolt.DB shared with Sessions.
type Blobs struct {
	db *bbolt.DB
}

func (b *Blobs) Save(_ context.Context, data []byte) (asset.ID, error) {
	id := asset.FromData(data)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		refBucket := tx.Bucket(bucketBlobRef)
		dataBucket := tx.Bucket(bucketBlobData)

		count, err := readCount(refBucket, id)
		if err != nil {
			return err
		}
		if count == 0 {
			if err := dataBucket.Put(id[:], data); err != nil {
				return err
			}
		}
		return writeCount(refBucket, id, count+1)
	})
	if err != nil {
		return asset.ID{}, err
	}
	return id, nil
}

func (b *Blobs) Get(_ context.Context, id asset.ID) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBlobData).Get(id[:])
		if v == nil {
			return ember.ErrNotFound
		}
		out = append(out, v...)
		return nil
	})
	return out, err
}

func (b *Blobs) Peek(_ context.Context, id asset.ID, n int) ([]byte, int, error) {
	var prefix []byte
	var total int
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBlobData).Get(id[:])
		if v == nil {
			return ember.ErrNotFound
		}
		total = len(v)
		cut := n
		if cut > total {
			cut = total
		}
		prefix = append(prefix, v[:cut]...)
		return nil
	})
	return prefix, total, err
}

func (b *Blobs) Retain(_ context.Context, id asset.ID) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		refBucket := tx.Bucket(bucketBlobRef)
		count, err := readCount(refBucket, id)
		if err != nil {
			return err
		}
		return writeCount(refBucket, id, count+1)
	})
}

func (b *Blobs) Release(_ context.Context, id asset.ID) (bool, error) {
	deleted := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		refBucket := tx.Bucket(bucketBlobRef)
		count, err := readCount(refBucket, id)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		count--
		if count == 0 {
			deleted = true
			if err := refBucket.Delete(id[:]); err != nil {
				return err
			}
			return tx.Bucket(bucketBlobData).Delete(id[:])
		}
		return writeCount(refBucket, id, count)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (b *Blobs) Close() error { return nil }

func readCount(bucket *bbolt.Bucket, id asset.ID) (uint64, error) {
	v := bucket.Get(id[:])
	if v == nil {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, ember.ErrMalformedRefcount
	}
	return binary.BigEndian.Uint64(v), nil
}

func writeCount(bucket *bbolt.Bucket, id asset.ID, n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return bucket.Put(id[:], buf[:])
}
