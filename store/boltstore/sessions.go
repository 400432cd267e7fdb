package boltstore

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"context"

	"github.com/emberhq/ember"
)

const maxAppendRetries = 10

// Sessions implements store.SessionStore using one bbolt.DB shared with
// Blobs.
type Sessions struct {
	db *bbolt.DB
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
		err = s.db.Update(func(tx *bbolt.Tx) error {
			metaBucket := tx.Bucket(bucketSessMeta)
			if metaBucket.Get(id.Bytes()) != nil {
				collided = true
				return nil
			}
			if err := metaBucket.Put(id.Bytes(), metaBytes); err != nil {
				return err
			}
			return tx.Bucket(bucketSessData).Put(id.Bytes(), entryBytes)
		})
		if err != nil {
			return ember.SessionID{}, err
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
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSessMeta).Put(id.Bytes(), metaBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketSessData).Put(id.Bytes(), entryBytes)
	})
}

func (s *Sessions) GetMeta(_ context.Context, id ember.SessionID) (ember.ChatMeta, error) {
	var meta ember.ChatMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSessMeta).Get(id.Bytes())
		if v == nil {
			return ember.ErrNotFound
		}
		return json.Unmarshal(v, &meta)
	})
	return meta, err
}

func (s *Sessions) GetData(_ context.Context, id ember.SessionID) (ember.ChatEntry, error) {
	var entry ember.ChatEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSessData).Get(id.Bytes())
		if v == nil {
			return ember.ErrNotFound
		}
		return json.Unmarshal(v, &entry)
	})
	return entry, err
}

// List returns ChatMeta in reverse creation order. SessionID bytes are
// lexicographically time-ordered (UUIDv7), so a reverse bucket cursor walk
// yields newest-first directly with no secondary index.
func (s *Sessions) List(_ context.Context, limit, offset int) ([]ember.ChatMeta, error) {
	var out []ember.ChatMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSessMeta).Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(out) >= limit {
				break
			}
			var meta ember.ChatMeta
			if err := json.Unmarshal(v, &meta); err != nil {
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
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dataBucket := tx.Bucket(bucketSessData)
		v := dataBucket.Get(id.Bytes())
		if v == nil {
			return ember.ErrNotFound
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		if err := dataBucket.Delete(id.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(bucketSessMeta).Delete(id.Bytes())
	})
	return entry, err
}

func (s *Sessions) UpdateDataWith(_ context.Context, id ember.SessionID, fn func(ember.ChatMeta, ember.ChatEntry) (ember.ChatMeta, ember.ChatEntry, error)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		metaBucket := tx.Bucket(bucketSessMeta)
		dataBucket := tx.Bucket(bucketSessData)

		mv := metaBucket.Get(id.Bytes())
		dv := dataBucket.Get(id.Bytes())
		if mv == nil || dv == nil {
			return ember.ErrNotFound
		}

		var oldMeta ember.ChatMeta
		var oldEntry ember.ChatEntry
		if err := json.Unmarshal(mv, &oldMeta); err != nil {
			return err
		}
		if err := json.Unmarshal(dv, &oldEntry); err != nil {
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
		if err := metaBucket.Put(id.Bytes(), newMetaBytes); err != nil {
			return err
		}
		return dataBucket.Put(id.Bytes(), newEntryBytes)
	})
}

func (s *Sessions) Close() error { return nil }
