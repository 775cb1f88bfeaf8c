package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailcast/internal/models"
)

// PutRecipient creates or replaces a recipient
func (s *Storage) PutRecipient(ctx context.Context, r *models.Recipient) error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return fmt.Errorf("recipient email is required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = string(models.DeliveryPending)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketRecipients), []byte(r.ID), r); err != nil {
			return fmt.Errorf("failed to store recipient: %w", err)
		}
		return nil
	})
}

// GetRecipient returns a recipient by ID or ErrNotFound
func (s *Storage) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	var r models.Recipient
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketRecipients), []byte(id), &r)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &r, nil
}

// GetRecipients resolves recipient IDs in the given order. IDs without a stored
// recipient are returned in missing.
func (s *Storage) GetRecipients(ctx context.Context, ids []string) (recipients []*models.Recipient, missing []string, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecipients)
		for _, id := range ids {
			var r models.Recipient
			found, err := getJSON(b, []byte(id), &r)
			if err != nil {
				return err
			}
			if !found {
				missing = append(missing, id)
				continue
			}
			recipients = append(recipients, &r)
		}
		return nil
	})
	return recipients, missing, err
}

// UpdateRecipientStatus sets the informational delivery status of a recipient
func (s *Storage) UpdateRecipientStatus(ctx context.Context, id, status string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecipients)
		var r models.Recipient
		found, err := getJSON(b, []byte(id), &r)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		r.Status = status
		return putJSON(b, []byte(id), &r)
	})
}

// PutTemplate creates or replaces a template
func (s *Storage) PutTemplate(ctx context.Context, t *models.Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketTemplates), []byte(t.ID), t); err != nil {
			return fmt.Errorf("failed to store template: %w", err)
		}
		return nil
	})
}

// GetTemplate returns a template by ID or ErrNotFound
func (s *Storage) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketTemplates), []byte(id), &t)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &t, nil
}
