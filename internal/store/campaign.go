package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailcast/internal/models"
)

// CreateCampaign stores a new campaign. A campaign with a schedule time and no
// explicit status starts out scheduled, otherwise draft.
func (s *Storage) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delay_seconds must not be negative")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CampaignDraft
		if c.ScheduledAt != nil {
			c.Status = models.CampaignScheduled
		}
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid campaign status %q", c.Status)
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	c.Total = len(c.RecipientIDs)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCampaigns)
		if b.Get([]byte(c.ID)) != nil {
			return fmt.Errorf("campaign %s already exists", c.ID)
		}
		return putCampaign(tx, nil, c)
	})
}

// GetCampaign returns a campaign by ID or ErrNotFound
func (s *Storage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c *models.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		c, err = loadCampaign(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CampaignExists reports whether a campaign with the given ID is stored
func (s *Storage) CampaignExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketCampaigns).Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}

// CampaignExistsTx is CampaignExists inside a transaction opened by another
// package on the same database.
func CampaignExistsTx(tx *bolt.Tx, id string) bool {
	return tx.Bucket(bucketCampaigns).Get([]byte(id)) != nil
}

// UpdateCampaign replaces the definition fields of a campaign that is not sending.
// Status, counters and timestamps owned by the dispatcher are preserved.
func (s *Storage) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delay_seconds must not be negative")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		old, err := loadCampaign(tx, c.ID)
		if err != nil {
			return err
		}
		if old.Status == models.CampaignSending {
			return ErrBusy
		}

		updated := *old
		updated.Name = c.Name
		updated.Subject = c.Subject
		updated.HTMLContent = c.HTMLContent
		updated.TemplateID = c.TemplateID
		updated.RecipientIDs = c.RecipientIDs
		updated.ScheduledAt = c.ScheduledAt
		updated.DelaySeconds = c.DelaySeconds
		if c.Status != "" && c.Status != models.CampaignSending {
			if !c.Status.Valid() {
				return fmt.Errorf("invalid campaign status %q", c.Status)
			}
			updated.Status = c.Status
		}
		updated.UpdatedAt = time.Now()

		if err := putCampaign(tx, old, &updated); err != nil {
			return err
		}
		*c = updated
		return nil
	})
}

// DeleteCampaign removes a campaign. Delivery records are owned by the ledger.
func (s *Storage) DeleteCampaign(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c, err := loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if c.ScheduledAt != nil {
			tx.Bucket(bucketSchedule).Delete(makeIndexKey(*c.ScheduledAt, c.ID))
		}
		return tx.Bucket(bucketCampaigns).Delete([]byte(id))
	})
}

// ListCampaigns returns campaigns, optionally filtered by status
func (s *Storage) ListCampaigns(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	var campaigns []*models.Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c models.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to decode campaign %s: %w", k, err)
			}
			if status != "" && c.Status != status {
				return nil
			}
			campaigns = append(campaigns, &c)
			return nil
		})
	})

	return campaigns, err
}

// CountCampaigns returns the number of campaigns per status
func (s *Storage) CountCampaigns(ctx context.Context) (map[models.CampaignStatus]int, error) {
	counts := make(map[models.CampaignStatus]int)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c struct {
				Status models.CampaignStatus `json:"status"`
			}
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to decode campaign %s: %w", k, err)
			}
			counts[c.Status]++
			return nil
		})
	})

	return counts, err
}

// ListDue returns scheduled campaigns whose schedule time is at or before now,
// oldest first
func (s *Storage) ListDue(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	var due []*models.Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSchedule).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(now) {
				break // All remaining are in the future
			}

			campaign, err := loadCampaign(tx, string(v))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if campaign.Due(now) {
				due = append(due, campaign)
			}
		}
		return nil
	})

	return due, err
}

// Transition atomically moves a campaign to status to if its current status is
// one of from. Returns ErrNotFound or ErrIneligible otherwise.
func (s *Storage) Transition(ctx context.Context, id string, from []models.CampaignStatus, to models.CampaignStatus) (*models.Campaign, error) {
	var result *models.Campaign

	err := s.db.Update(func(tx *bolt.Tx) error {
		c, err := loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, c.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrIneligible, c.Status, to)
		}

		old := *c
		c.Status = to
		c.UpdatedAt = time.Now()
		if err := putCampaign(tx, &old, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetStatus unconditionally overwrites the campaign status
func (s *Storage) SetStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	return s.modifyCampaign(id, func(c *models.Campaign) error {
		c.Status = status
		return nil
	})
}

// SetCounters writes the aggregate counters of a campaign
func (s *Storage) SetCounters(ctx context.Context, id string, total, sent, failed int) error {
	if sent+failed > total {
		return ErrCounterOverflow
	}
	return s.modifyCampaign(id, func(c *models.Campaign) error {
		c.Total = total
		c.Sent = sent
		c.Failed = failed
		return nil
	})
}

// IncrementCounter atomically increments the sent or failed counter
func (s *Storage) IncrementCounter(ctx context.Context, id string, counter models.Counter) error {
	return s.modifyCampaign(id, func(c *models.Campaign) error {
		if c.Sent+c.Failed >= c.Total {
			return ErrCounterOverflow
		}
		switch counter {
		case models.CounterSent:
			c.Sent++
		case models.CounterFailed:
			c.Failed++
		default:
			return fmt.Errorf("unknown counter %q", counter)
		}
		return nil
	})
}

// Finish records the final status and completion time of a run
func (s *Storage) Finish(ctx context.Context, id string, status models.CampaignStatus, sentAt time.Time) (*models.Campaign, error) {
	var result *models.Campaign
	err := s.modifyCampaign(id, func(c *models.Campaign) error {
		c.Status = status
		c.SentAt = &sentAt
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Storage) modifyCampaign(id string, fn func(c *models.Campaign) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c, err := loadCampaign(tx, id)
		if err != nil {
			return err
		}
		old := *c
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = time.Now()
		return putCampaign(tx, &old, c)
	})
}

func loadCampaign(tx *bolt.Tx, id string) (*models.Campaign, error) {
	var c models.Campaign
	found, err := getJSON(tx.Bucket(bucketCampaigns), []byte(id), &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &c, nil
}

// putCampaign writes the campaign and keeps the schedule index in sync
func putCampaign(tx *bolt.Tx, old, c *models.Campaign) error {
	schedule := tx.Bucket(bucketSchedule)
	if old != nil && old.ScheduledAt != nil {
		if err := schedule.Delete(makeIndexKey(*old.ScheduledAt, old.ID)); err != nil {
			return fmt.Errorf("failed to remove from schedule index: %w", err)
		}
	}
	if c.Status == models.CampaignScheduled && c.ScheduledAt != nil {
		if err := schedule.Put(makeIndexKey(*c.ScheduledAt, c.ID), []byte(c.ID)); err != nil {
			return fmt.Errorf("failed to add to schedule index: %w", err)
		}
	}

	if err := putJSON(tx.Bucket(bucketCampaigns), []byte(c.ID), c); err != nil {
		return fmt.Errorf("failed to store campaign: %w", err)
	}
	return nil
}
