package store

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailcast/internal/models"
)

// GetProviderConfig returns the provider configuration singleton or ErrNotFound
func (s *Storage) GetProviderConfig(ctx context.Context) (*models.ProviderConfig, error) {
	var cfg models.ProviderConfig
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketSettings), keyProviderConfig, &cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

// PutProviderConfig replaces the provider configuration singleton
func (s *Storage) PutProviderConfig(ctx context.Context, cfg *models.ProviderConfig) error {
	cfg.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSettings), keyProviderConfig, cfg)
	})
}
