package models

import "time"

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignSent      CampaignStatus = "sent"
	CampaignFailed    CampaignStatus = "failed"
)

// Valid reports whether s is a known campaign status
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignPaused, CampaignSent, CampaignFailed:
		return true
	}
	return false
}

// AllCampaignStatuses lists every campaign status
var AllCampaignStatuses = []CampaignStatus{
	CampaignDraft, CampaignScheduled, CampaignSending, CampaignPaused, CampaignSent, CampaignFailed,
}

// Startable lists the statuses a campaign may enter sending from
var Startable = []CampaignStatus{CampaignDraft, CampaignScheduled, CampaignPaused}

// Counter names a campaign aggregate counter
type Counter string

const (
	CounterSent   Counter = "sent"
	CounterFailed Counter = "failed"
)

// Campaign represents a batch send job with one body and an ordered recipient list
type Campaign struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Subject      string         `json:"subject" yaml:"subject"`
	HTMLContent  string         `json:"html_content,omitempty" yaml:"html_content"`
	TemplateID   string         `json:"template_id,omitempty" yaml:"template_id"`
	RecipientIDs []string       `json:"recipient_ids" yaml:"recipient_ids"`
	ScheduledAt  *time.Time     `json:"scheduled_at,omitempty" yaml:"scheduled_at"`
	DelaySeconds int            `json:"delay_seconds" yaml:"delay_seconds"`
	Status       CampaignStatus `json:"status" yaml:"status"`
	Total        int            `json:"total" yaml:"-"`
	Sent         int            `json:"sent" yaml:"-"`
	Failed       int            `json:"failed" yaml:"-"`
	CreatedAt    time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time      `json:"updated_at" yaml:"-"`
	SentAt       *time.Time     `json:"sent_at,omitempty" yaml:"-"`
}

// Due reports whether a scheduled campaign should start at now
func (c *Campaign) Due(now time.Time) bool {
	return c.Status == CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
}

// Template is a named reusable message body
type Template struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Subject     string    `json:"subject" yaml:"subject"`
	HTMLContent string    `json:"html_content" yaml:"html_content"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}
