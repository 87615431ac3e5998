// Package cursor persists the last-processed TransactionLocation for each
// monitor in a single-file embedded bbolt database, so a restart resumes
// exactly where the previous process left off.
package cursor

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	bolt "go.etcd.io/bbolt"

	"github.com/planetarium/ncg-bridge/internal/domain"
)

var bucketName = []byte("cursors")

// Store is a durable, single-writer key-value store keyed by monitor
// name. Concurrent reads are safe; bbolt serializes writers internally.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// cursor bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("cursor: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cursor: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Load returns the persisted location for name, or the zero location and
// false if none has ever been saved (cursors are created lazily).
func (s *Store) Load(name string) (domain.TransactionLocation, bool, error) {
	var loc domain.TransactionLocation
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(name))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &loc)
	})
	if err != nil {
		return domain.TransactionLocation{}, false, fmt.Errorf("cursor: load %s: %w", name, err)
	}
	return loc, found, nil
}

// Save durably persists loc as the new cursor for name. Commits fsync by
// default (bbolt's NoSync is left false), giving the write-ahead
// semantics the bridge's crash-recovery story depends on.
func (s *Store) Save(name string, loc domain.TransactionLocation) error {
	raw, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("cursor: marshal %s: %w", name, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(name), raw)
	})
	if err != nil {
		return fmt.Errorf("cursor: save %s: %w", name, err)
	}
	log.Debug("cursor advanced", "monitor", name, "blockHash", loc.BlockHash, "txId", loc.TxID)
	return nil
}
