package quota

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var quotaBucket = []byte("quota")

// BoltStore persists ledger state in a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the state file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("quota: open state file: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(quotaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("quota: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load returns every persisted provider state.
func (s *BoltStore) Load() (map[string]State, error) {
	out := make(map[string]State)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(quotaBucket).ForEach(func(k, v []byte) error {
			var st State
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out[string(k)] = st
			return nil
		})
	})
	return out, err
}

// Save writes one provider's state.
func (s *BoltStore) Save(provider string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(quotaBucket).Put([]byte(provider), data)
	})
}

// Close releases the state file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
