package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DB wraps the BoltDB file shared by all stores
type DB struct {
	*bolt.DB
	path string
}

// Open opens (or creates) the BoltDB file at path
func Open(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	bdb, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{DB: bdb, path: path}, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Size returns the database file size in bytes
func (db *DB) Size() int64 {
	var size int64
	db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size
}

// Reset empties every bucket, keeping the buckets themselves
func (db *DB) Reset() error {
	return db.Update(func(tx *bolt.Tx) error {
		var names [][]byte
		err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, append([]byte{}, name...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to drop bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("failed to recreate bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// EnsureBuckets creates the named buckets if they do not exist
func EnsureBuckets(bdb *bolt.DB, buckets ...[]byte) error {
	return bdb.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// IndexKey creates a sortable key from timestamp and ID
func IndexKey(t time.Time, id string) []byte {
	// Format: fixed-width UTC timestamp + ":" + id
	return []byte(t.UTC().Format("2006-01-02T15:04:05.000000000Z") + ":" + id)
}

// PrefixKey joins a prefix and an index key, e.g. campaign ID + time + email ID
func PrefixKey(prefix string, t time.Time, id string) []byte {
	return append([]byte(prefix+"/"), IndexKey(t, id)...)
}
