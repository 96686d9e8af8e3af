package kvstore

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketEvents       = []byte("events")
	bucketForwardIndex = []byte("forward_index")
)

// forwarded is the marker stored against each event id
var forwarded = []byte{1}

// Store is the durable cold tier of the deduplication engine. It keeps an
// append-only index of forwarded event ids in two buckets: "events" keyed by
// the raw id bytes, and "forward_index" keyed by a monotonic sequence so the
// most recently forwarded ids can be scanned on warm start.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the store under dataDir
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "dedup.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketForwardIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// PutEvent records an event id as forwarded
func (s *Store) PutEvent(id string) error {
	key := idKey(id)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).Put(key, forwarded)
	})
}

// ContainsEvent reports whether the id was previously recorded
func (s *Store) ContainsEvent(id string) (bool, error) {
	key := idKey(id)
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketEvents).Get(key) != nil
		return nil
	})
	return found, err
}

// AppendForward appends the id to the forward index under the next sequence
func (s *Store) AppendForward(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketForwardIndex)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate forward sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, idKey(id))
	})
}

// IterateForwardDesc returns up to limit of the most recently forwarded ids,
// newest first. Used to preload the in-memory dedup tiers on boot.
func (s *Store) IterateForwardDesc(limit int) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketForwardIndex).Cursor()
		for k, v := c.Last(); k != nil && len(ids) < limit; k, v = c.Prev() {
			ids = append(ids, keyID(v))
		}
		return nil
	})
	return ids, err
}

// ApproximateEventCount returns the number of recorded event ids
func (s *Store) ApproximateEventCount() (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketEvents).Stats().KeyN
		return nil
	})
	return count, err
}

// idKey converts a hex event id to its raw bytes; ids that are not valid
// hex are stored verbatim so a malformed upstream id cannot fail the write.
func idKey(id string) []byte {
	if raw, err := hex.DecodeString(id); err == nil {
		return raw
	}
	return []byte(id)
}

func keyID(key []byte) string {
	return hex.EncodeToString(key)
}
