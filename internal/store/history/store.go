// Package history durably records every emitted counter-chain action,
// keyed by (sourceNetwork, sourceTxId). Its presence test is the bridge's
// exactly-once gate: data model invariant 2 depends on Has being checked
// before any emission is attempted.
//
// An in-memory "seen" set, rebuilt from the store at Open, sits in front
// of the bbolt lookup so the overwhelmingly common "first time we've
// seen this txId" path never touches disk.
package history

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	bolt "go.etcd.io/bbolt"

	"github.com/planetarium/ncg-bridge/internal/domain"
)

var bucketName = []byte("history")

type Store struct {
	db *bolt.DB

	mu   sync.RWMutex
	seen map[string]struct{}
}

// Open opens (creating if absent) the bbolt file at path, ensures the
// history bucket exists, and rebuilds the in-memory front-cache from
// every key already on disk.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	s := &Store{db: db, seen: make(map[string]struct{})}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, _ []byte) error {
			s.seen[string(k)] = struct{}{}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: seed front cache: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func key(network, txID string) []byte {
	return []byte(network + "\x00" + txID)
}

// Has reports whether a history record already exists for (network, txID).
func (s *Store) Has(network, txID string) (bool, error) {
	k := key(network, txID)

	s.mu.RLock()
	_, maybe := s.seen[string(k)]
	s.mu.RUnlock()
	if !maybe {
		return false, nil
	}

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketName).Get(k) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("history: has %s/%s: %w", network, txID, err)
	}
	return found, nil
}

// Insert writes a new history record. Callers must have already checked
// Has; Insert does not itself enforce uniqueness beyond overwriting.
func (s *Store) Insert(rec domain.HistoryRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: marshal %s/%s: %w", rec.SourceNetwork, rec.SourceTxID, err)
	}
	k := key(rec.SourceNetwork, rec.SourceTxID)
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(k, raw)
	})
	if err != nil {
		return fmt.Errorf("history: insert %s/%s: %w", rec.SourceNetwork, rec.SourceTxID, err)
	}

	s.mu.Lock()
	s.seen[string(k)] = struct{}{}
	s.mu.Unlock()

	log.Debug("history recorded", "network", rec.SourceNetwork, "txId", rec.SourceTxID, "status", rec.Status)
	return nil
}

// Get returns the stored record, if any.
func (s *Store) Get(network, txID string) (domain.HistoryRecord, bool, error) {
	var rec domain.HistoryRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(key(network, txID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return domain.HistoryRecord{}, false, fmt.Errorf("history: get %s/%s: %w", network, txID, err)
	}
	return rec, found, nil
}

// Recent returns up to limit history records in descending key order
// (source network, then source tx id). bbolt keeps keys sorted, so this
// is not the order the records were inserted in. It serves the
// read-only status surface and is not used anywhere in the exactly-once
// emission path.
func (s *Store) Recent(limit int) ([]domain.HistoryRecord, error) {
	var out []domain.HistoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, raw := c.Last(); k != nil && len(out) < limit; k, raw = c.Prev() {
			var rec domain.HistoryRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return out, nil
}

// Update applies mutate to the existing record for (network, txID) and
// persists the result. Used to annotate a refund or failure outcome onto
// an already-recorded emission; it never changes the record's key.
func (s *Store) Update(network, txID string, mutate func(*domain.HistoryRecord)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		k := key(network, txID)
		raw := b.Get(k)
		if raw == nil {
			return fmt.Errorf("history: update %s/%s: no such record", network, txID)
		}
		var rec domain.HistoryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		mutate(&rec)
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(k, updated)
	})
}
