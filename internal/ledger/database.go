package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const entriesBucketName = "entries"

// DB defines the interface for database operations
type DB interface {
	// SaveEntry inserts or replaces an entry
	SaveEntry(entry *Entry) error

	// GetEntry retrieves an entry by ID
	GetEntry(id string) (*Entry, error)

	// ListEntries returns all entries
	ListEntries() ([]*Entry, error)

	// DeleteEntry removes an entry together with its items
	DeleteEntry(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveEntry saves an entry to the database. Line items are stored inside the
// entry value, so they share its lifetime.
func (b *BoltDB) SaveEntry(entry *Entry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucketName))
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		return bucket.Put([]byte(entry.ID), data)
	})
}

// GetEntry retrieves an entry by ID
func (b *BoltDB) GetEntry(id string) (*Entry, error) {
	var entry *Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns all entries in key order
func (b *BoltDB) ListEntries() ([]*Entry, error) {
	entries := make([]*Entry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteEntry removes an entry from the database
func (b *BoltDB) DeleteEntry(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
