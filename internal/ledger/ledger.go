// Package ledger keeps one delivery record per (campaign, recipient email) pair.
// A terminal record is the idempotency barrier that makes resumed runs skip
// recipients that were already handled.
package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailcast/internal/email"
	"github.com/foxzi/mailcast/internal/models"
	"github.com/foxzi/mailcast/internal/store"
)

var (
	bucketDeliveries = []byte("deliveries")
	bucketIndex      = []byte("delivery_index")
)

// ErrTerminal is returned when an outcome is recorded for a record that already has one
var ErrTerminal = errors.New("delivery record already has a terminal status")

// Ledger stores delivery records next to the campaigns they belong to
type Ledger struct {
	db    *bolt.DB
	store *store.Storage
}

// New creates the ledger buckets in the store's database
func New(s *store.Storage) (*Ledger, error) {
	db := s.DB()
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDeliveries); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketIndex); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger buckets: %w", err)
	}
	return &Ledger{db: db, store: s}, nil
}

// HasTerminalRecord reports whether the recipient already has a sent or failed record
func (l *Ledger) HasTerminalRecord(ctx context.Context, campaignID, recipientEmail string) (bool, error) {
	var terminal bool
	err := l.db.View(func(tx *bolt.Tx) error {
		rec, _, err := lookup(tx, campaignID, recipientEmail)
		if err != nil || rec == nil {
			return err
		}
		terminal = rec.Status.Terminal()
		return nil
	})
	return terminal, err
}

// GetOrCreatePending returns the record for (campaign, email), creating a pending
// one if none exists. Repeated calls return the same record. A record is never
// created for a campaign that no longer exists; store.ErrNotFound is returned.
func (l *Ledger) GetOrCreatePending(ctx context.Context, campaignID, recipientID, recipientEmail string) (*models.DeliveryRecord, error) {
	var result *models.DeliveryRecord

	err := l.db.Update(func(tx *bolt.Tx) error {
		rec, _, err := lookup(tx, campaignID, recipientEmail)
		if err != nil {
			return err
		}
		if rec != nil {
			result = rec
			return nil
		}
		if !store.CampaignExistsTx(tx, campaignID) {
			return store.ErrNotFound
		}

		deliveries := tx.Bucket(bucketDeliveries)
		seq, err := deliveries.NextSequence()
		if err != nil {
			return err
		}
		key := recordKey(campaignID, seq)

		rec = &models.DeliveryRecord{
			ID:             uuid.New().String(),
			CampaignID:     campaignID,
			RecipientID:    recipientID,
			RecipientEmail: email.Normalize(recipientEmail),
			Status:         models.DeliveryPending,
			CreatedAt:      time.Now(),
		}
		if err := putRecord(deliveries, key, rec); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndex).Put(indexKey(campaignID, recipientEmail), key); err != nil {
			return fmt.Errorf("failed to index delivery record: %w", err)
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkOutcome records the terminal status of a delivery. rec is updated in place.
func (l *Ledger) MarkOutcome(ctx context.Context, rec *models.DeliveryRecord, success bool, errMsg string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		stored, key, err := lookup(tx, rec.CampaignID, rec.RecipientEmail)
		if err != nil {
			return err
		}
		if stored == nil {
			return store.ErrNotFound
		}
		if stored.Status.Terminal() {
			return ErrTerminal
		}

		now := time.Now()
		stored.SentAt = &now
		if success {
			stored.Status = models.DeliverySent
			stored.Error = ""
		} else {
			stored.Status = models.DeliveryFailed
			stored.Error = errMsg
		}
		if err := putRecord(tx.Bucket(bucketDeliveries), key, stored); err != nil {
			return err
		}
		*rec = *stored
		return nil
	})
}

// IncrementCounter atomically increments the campaign's sent or failed counter
func (l *Ledger) IncrementCounter(ctx context.Context, campaignID string, counter models.Counter) error {
	return l.store.IncrementCounter(ctx, campaignID, counter)
}

// ListByCampaign returns the campaign's records in creation order,
// optionally filtered by status
func (l *Ledger) ListByCampaign(ctx context.Context, campaignID string, status models.DeliveryStatus) ([]*models.DeliveryRecord, error) {
	var records []*models.DeliveryRecord

	err := l.db.View(func(tx *bolt.Tx) error {
		prefix := campaignPrefix(campaignID)
		c := tx.Bucket(bucketDeliveries).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec models.DeliveryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode delivery record: %w", err)
			}
			if status != "" && rec.Status != status {
				continue
			}
			records = append(records, &rec)
		}
		return nil
	})

	return records, err
}

// Counts aggregates the campaign's records by status
func (l *Ledger) Counts(ctx context.Context, campaignID string) (models.DeliveryCounts, error) {
	var counts models.DeliveryCounts

	records, err := l.ListByCampaign(ctx, campaignID, "")
	if err != nil {
		return counts, err
	}
	for _, rec := range records {
		switch rec.Status {
		case models.DeliveryPending:
			counts.Pending++
		case models.DeliverySent:
			counts.Sent++
		case models.DeliveryFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

// DeleteCampaign removes every record of the campaign
func (l *Ledger) DeleteCampaign(ctx context.Context, campaignID string) error {
	prefix := campaignPrefix(campaignID)
	return l.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDeliveries, bucketIndex} {
			b := tx.Bucket(name)
			var keys [][]byte
			c := b.Cursor()
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func lookup(tx *bolt.Tx, campaignID, recipientEmail string) (*models.DeliveryRecord, []byte, error) {
	key := tx.Bucket(bucketIndex).Get(indexKey(campaignID, recipientEmail))
	if key == nil {
		return nil, nil, nil
	}
	data := tx.Bucket(bucketDeliveries).Get(key)
	if data == nil {
		return nil, nil, nil
	}
	var rec models.DeliveryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("failed to decode delivery record: %w", err)
	}
	return &rec, append([]byte(nil), key...), nil
}

func putRecord(b *bolt.Bucket, key []byte, rec *models.DeliveryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode delivery record: %w", err)
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("failed to store delivery record: %w", err)
	}
	return nil
}

func campaignPrefix(campaignID string) []byte {
	return []byte(campaignID + "\x00")
}

// recordKey orders a campaign's records by creation sequence
func recordKey(campaignID string, seq uint64) []byte {
	key := campaignPrefix(campaignID)
	return binary.BigEndian.AppendUint64(key, seq)
}

func indexKey(campaignID, recipientEmail string) []byte {
	return append(campaignPrefix(campaignID), email.Normalize(recipientEmail)...)
}
