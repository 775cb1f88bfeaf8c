package models

import (
	"fmt"
	"time"
)

// ProviderKind selects the transport used to deliver messages
type ProviderKind string

const (
	ProviderSendGrid ProviderKind = "sendgrid"
	ProviderMailgun  ProviderKind = "mailgun"
	ProviderSMTP     ProviderKind = "smtp"
	ProviderTwilio   ProviderKind = "twilio"
)

// RedactedSecret replaces credentials in API responses
const RedactedSecret = "********"

// ProviderConfig is the deployment-wide transport configuration
type ProviderConfig struct {
	Provider        ProviderKind   `json:"provider" yaml:"provider"`
	FromEmail       string         `json:"from_email" yaml:"from_email"`
	FromName        string         `json:"from_name,omitempty" yaml:"from_name"`
	SendGrid        SendGridConfig `json:"sendgrid" yaml:"sendgrid"`
	Mailgun         MailgunConfig  `json:"mailgun" yaml:"mailgun"`
	SMTP            SMTPConfig     `json:"smtp" yaml:"smtp"`
	Twilio          TwilioConfig   `json:"twilio" yaml:"twilio"`
	TrackingEnabled bool           `json:"tracking_enabled" yaml:"tracking_enabled"`
	IsConfigured    bool           `json:"is_configured" yaml:"is_configured"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"-"`
}

// SendGridConfig holds SendGrid credentials
type SendGridConfig struct {
	APIKey string `json:"api_key,omitempty" yaml:"api_key"`
}

// MailgunConfig holds Mailgun credentials
type MailgunConfig struct {
	APIKey string `json:"api_key,omitempty" yaml:"api_key"`
	Domain string `json:"domain,omitempty" yaml:"domain"`
	Region string `json:"region,omitempty" yaml:"region"` // us (default) or eu
}

// SMTPConfig holds relay settings for the SMTP provider
type SMTPConfig struct {
	Host     string `json:"host,omitempty" yaml:"host"`
	Port     int    `json:"port,omitempty" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
	Secure   bool   `json:"secure" yaml:"secure"` // implicit TLS instead of STARTTLS
}

// TwilioConfig holds SMS gateway credentials
type TwilioConfig struct {
	AccountSID string `json:"account_sid,omitempty" yaml:"account_sid"`
	AuthToken  string `json:"auth_token,omitempty" yaml:"auth_token"`
	FromNumber string `json:"from_number,omitempty" yaml:"from_number"`
}

// Validate checks that the selected provider has the fields it needs
func (c *ProviderConfig) Validate() error {
	switch c.Provider {
	case ProviderSendGrid:
		if c.SendGrid.APIKey == "" {
			return fmt.Errorf("sendgrid.api_key is required")
		}
	case ProviderMailgun:
		if c.Mailgun.APIKey == "" || c.Mailgun.Domain == "" {
			return fmt.Errorf("mailgun.api_key and mailgun.domain are required")
		}
	case ProviderSMTP:
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required")
		}
	case ProviderTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "" {
			return fmt.Errorf("twilio.account_sid, twilio.auth_token and twilio.from_number are required")
		}
		return nil
	default:
		return fmt.Errorf("unknown provider %q (must be sendgrid, mailgun, smtp or twilio)", c.Provider)
	}
	if c.FromEmail == "" {
		return fmt.Errorf("from_email is required")
	}
	return nil
}

// Redacted returns a copy with secrets masked
func (c ProviderConfig) Redacted() ProviderConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return RedactedSecret
	}
	c.SendGrid.APIKey = mask(c.SendGrid.APIKey)
	c.Mailgun.APIKey = mask(c.Mailgun.APIKey)
	c.SMTP.Password = mask(c.SMTP.Password)
	c.Twilio.AuthToken = mask(c.Twilio.AuthToken)
	return c
}
