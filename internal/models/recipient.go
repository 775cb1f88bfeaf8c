package models

import "time"

// Recipient represents a single message recipient
type Recipient struct {
	ID        string    `json:"id" yaml:"id"`
	Email     string    `json:"email" yaml:"email"`
	Name      string    `json:"name,omitempty" yaml:"name"`
	Phone     string    `json:"phone,omitempty" yaml:"phone"`
	Status    string    `json:"status" yaml:"-"` // last known delivery status, informational only
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}
