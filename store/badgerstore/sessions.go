package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/emberhq/ember"
)

const maxAppendRetries = 10

// Sessions implements store.SessionStore using one badger.DB shared with
// Blobs.
type Sessions struct {
	db *badger.DB
}

func (s *Sessions) Append(_ context.Context, meta ember.ChatMeta, entry ember.ChatEntry) (ember.SessionID, error) {
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		id := ember.NewSessionID()
		meta.ID, entry.ID = id, id

		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return ember.SessionID{}, err
		}
		entryBytes, err := json.Marshal(entry)
		if err != nil {
			return ember.SessionID{}, err
		}

		collided := false
		err = s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(sessMetaKey(id.Bytes()))
			if err == nil {
				collided = true
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(sessMetaKey(id.Bytes()), metaBytes); err != nil {
				return err
			}
			return txn.Set(sessDataKey(id.Bytes()), entryBytes)
		})
		if err != nil {
			return ember.SessionID{}, wrapConflict(err)
		}
		if !collided {
			return id, nil
		}
	}
	return ember.SessionID{}, ember.ErrIDCollision
}

func (s *Sessions) Update(_ context.Context, id ember.SessionID, meta ember.ChatMeta, entry ember.ChatEntry) error {
	meta.ID, entry.ID = id, id
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(sessMetaKey(id.Bytes()), metaBytes); err != nil {
			return err
		}
		return txn.Set(sessDataKey(id.Bytes()), entryBytes)
	})
	return wrapConflict(err)
}

func (s *Sessions) GetMeta(_ context.Context, id ember.SessionID) (ember.ChatMeta, error) {
	var meta ember.ChatMeta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessMetaKey(id.Bytes()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ember.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) })
	})
	return meta, err
}

func (s *Sessions) GetData(_ context.Context, id ember.SessionID) (ember.ChatEntry, error) {
	var entry ember.ChatEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessDataKey(id.Bytes()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ember.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) })
	})
	return entry, err
}

// List returns ChatMeta in reverse creation order. SessionID bytes are
// lexicographically time-ordered (UUIDv7); a reverse badger iterator over
// the session-meta key prefix therefore yields newest-first with no secondary
// index, by seeking to the prefix's upper bound and walking backward.
func (s *Sessions) List(_ context.Context, limit, offset int) ([]ember.ChatMeta, error) {
	var out []ember.ChatMeta
	prefix := []byte(prefixSessMeta)
	upperBound := append(append([]byte{}, prefix...), 0xFF)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(upperBound); it.ValidForPrefix(prefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(out) >= limit {
				break
			}
			var meta ember.ChatMeta
			err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &meta) })
			if err != nil {
				return err
			}
			out = append(out, meta)
		}
		return nil
	})
	return out, err
}

func (s *Sessions) Delete(_ context.Context, id ember.SessionID) (ember.ChatEntry, error) {
	var entry ember.ChatEntry
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sessDataKey(id.Bytes()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ember.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
			return err
		}
		if err := txn.Delete(sessDataKey(id.Bytes())); err != nil {
			return err
		}
		return txn.Delete(sessMetaKey(id.Bytes()))
	})
	return entry, wrapConflict(err)
}

func (s *Sessions) UpdateDataWith(_ context.Context, id ember.SessionID, fn func(ember.ChatMeta, ember.ChatEntry) (ember.ChatMeta, ember.ChatEntry, error)) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		metaItem, err := txn.Get(sessMetaKey(id.Bytes()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ember.ErrNotFound
		}
		if err != nil {
			return err
		}
		dataItem, err := txn.Get(sessDataKey(id.Bytes()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ember.ErrNotFound
		}
		if err != nil {
			return err
		}

		var oldMeta ember.ChatMeta
		var oldEntry ember.ChatEntry
		if err := metaItem.Value(func(val []byte) error { return json.Unmarshal(val, &oldMeta) }); err != nil {
			return err
		}
		if err := dataItem.Value(func(val []byte) error { return json.Unmarshal(val, &oldEntry) }); err != nil {
			return err
		}

		newMeta, newEntry, err := fn(oldMeta, oldEntry)
		if err != nil {
			return fmt.Errorf("ember: update aborted: %w", err)
		}

		newMetaBytes, err := json.Marshal(newMeta)
		if err != nil {
			return err
		}
		newEntryBytes, err := json.Marshal(newEntry)
		if err != nil {
			return err
		}
		if err := txn.Set(sessMetaKey(id.Bytes()), newMetaBytes); err != nil {
			return err
		}
		return txn.Set(sessDataKey(id.Bytes()), newEntryBytes)
	})
	return wrapConflict(err)
}

func (s *Sessions) Close() error { return nil }
