package models

import "time"

// DeliveryStatus represents the outcome of one recipient's send
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Terminal reports whether the status can no longer change
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySent || s == DeliveryFailed
}

// DeliveryRecord tracks one recipient's send outcome for one campaign.
// The pair (CampaignID, RecipientEmail) is unique.
type DeliveryRecord struct {
	ID             string         `json:"id"`
	CampaignID     string         `json:"campaign_id"`
	RecipientID    string         `json:"recipient_id,omitempty"`
	RecipientEmail string         `json:"recipient_email"`
	Status         DeliveryStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DeliveryCounts holds aggregated ledger statistics for a campaign
type DeliveryCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
