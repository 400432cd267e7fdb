package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
)

// Blobs implements store.BlobStore using one badger.DB shared with
// Sessions.
type Blobs struct {
	db *badger.DB
}

func (b *Blobs) Save(_ context.Context, data []byte) (asset.ID, error) {
	id := asset.FromData(data)
	err := b.db.Update(func(txn *badger.Txn) error {
		count, err := readCount(txn, id)
		if err != nil {
			return err
		}
		if count == 0 {
			if err := txn.Set(blobDataKey(id[:]), data); err != nil {
				return err
			}
		}
		return writeCount(txn, id, count+1)
	})
	if err != nil {
		return asset.ID{}, wrapConflict(err)
	}
	return id, nil
}

func (b *Blobs) Get(_ context.Context, id asset.ID) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobDataKey(id[:]))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ember.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append(out, val...)
			return nil
		})
	})
	return out, err
}

func (b *Blobs) Peek(_ context.Context, id asset.ID, n int) ([]byte, int, error) {
	var prefix []byte
	var total int
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobDataKey(id[:]))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ember.ErrNotFound
		}
		if err != nil {
			return err
		}
		total = int(item.ValueSize())
		return item.Value(func(val []byte) error {
			cut := n
			if cut > len(val) {
				cut = len(val)
			}
			prefix = append(prefix, val[:cut]...)
			return nil
		})
	})
	return prefix, total, err
}

func (b *Blobs) Retain(_ context.Context, id asset.ID) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		count, err := readCount(txn, id)
		if err != nil {
			return err
		}
		return writeCount(txn, id, count+1)
	})
	return wrapConflict(err)
}

func (b *Blobs) Release(_ context.Context, id asset.ID) (bool, error) {
	deleted := false
	err := b.db.Update(func(txn *badger.Txn) error {
		count, err := readCount(txn, id)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		count--
		if count == 0 {
			deleted = true
			if err := txn.Delete(blobRefKey(id[:])); err != nil {
				return err
			}
			return txn.Delete(blobDataKey(id[:]))
		}
		return writeCount(txn, id, count)
	})
	if err != nil {
		return false, wrapConflict(err)
	}
	return deleted, nil
}

func (b *Blobs) Close() error { return nil }

func readCount(txn *badger.Txn, id asset.ID) (uint64, error) {
	item, err := txn.Get(blobRefKey(id[:]))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return ember.ErrMalformedRefcount
		}
		count = binary.BigEndian.Uint64(val)
		return nil
	})
	return count, err
}

func writeCount(txn *badger.Txn, id asset.ID, n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return txn.Set(blobRefKey(id[:]), buf[:])
}

func wrapConflict(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return ember.ErrStorageConflict
	}
	return err
}
