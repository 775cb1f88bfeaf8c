// Package store persists campaigns, recipients, templates and the provider
// configuration in a single BoltDB file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCampaigns  = []byte("campaigns")
	bucketSchedule   = []byte("campaign_schedule")
	bucketRecipients = []byte("recipients")
	bucketTemplates  = []byte("templates")
	bucketSettings   = []byte("settings")

	keyProviderConfig = []byte("provider_config")
)

var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrIneligible is returned when a status transition is not allowed from the current status
	ErrIneligible = errors.New("campaign status not eligible for transition")

	// ErrBusy is returned when a campaign definition is changed while it is sending
	ErrBusy = errors.New("campaign is sending")

	// ErrCounterOverflow is returned when an increment would push sent+failed above total
	ErrCounterOverflow = errors.New("campaign counters would exceed total")
)

// Storage is the BoltDB backed store
type Storage struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database at path
func Open(path string) (*Storage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCampaigns, bucketSchedule, bucketRecipients, bucketTemplates, bucketSettings} {
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

	return &Storage{db: db}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *Storage) DB() *bolt.DB {
	return s.db
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return b.Put(key, data)
}

// indexTimeLayout is fixed width so index keys sort chronologically
const indexTimeLayout = "2006-01-02T15:04:05.000000000Z"

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeLayout) + ":" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	if len(key) < len(indexTimeLayout) {
		return time.Time{}
	}
	ts, _ := time.Parse(indexTimeLayout, string(key[:len(indexTimeLayout)]))
	return ts
}
