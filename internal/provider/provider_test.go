package provider

import (
	"errors"
	"testing"

	"github.com/foxzi/mailcast/internal/models"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *models.ProviderConfig
		wantKind models.ProviderKind
		wantErr  bool
	}{
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: true,
		},
		{
			name: "not configured",
			cfg: &models.ProviderConfig{
				Provider:  models.ProviderSendGrid,
				FromEmail: "news@example.com",
				SendGrid:  models.SendGridConfig{APIKey: "key"},
			},
			wantErr: true,
		},
		{
			name: "sendgrid",
			cfg: &models.ProviderConfig{
				Provider:     models.ProviderSendGrid,
				FromEmail:    "news@example.com",
				SendGrid:     models.SendGridConfig{APIKey: "key"},
				IsConfigured: true,
			},
			wantKind: models.ProviderSendGrid,
		},
		{
			name: "mailgun missing domain",
			cfg: &models.ProviderConfig{
				Provider:     models.ProviderMailgun,
				FromEmail:    "news@example.com",
				Mailgun:      models.MailgunConfig{APIKey: "key"},
				IsConfigured: true,
			},
			wantErr: true,
		},
		{
			name: "smtp",
			cfg: &models.ProviderConfig{
				Provider:     models.ProviderSMTP,
				FromEmail:    "news@example.com",
				SMTP:         models.SMTPConfig{Host: "relay.example.com"},
				IsConfigured: true,
			},
			wantKind: models.ProviderSMTP,
		},
		{
			name: "twilio",
			cfg: &models.ProviderConfig{
				Provider:     models.ProviderTwilio,
				Twilio:       models.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550000"},
				IsConfigured: true,
			},
			wantKind: models.ProviderTwilio,
		},
		{
			name: "unknown kind",
			cfg: &models.ProviderConfig{
				Provider:     "pigeon",
				FromEmail:    "news@example.com",
				IsConfigured: true,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, Options{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if p.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", p.Kind(), tt.wantKind)
			}
		})
	}
}

func TestNewNotConfigured(t *testing.T) {
	_, err := New(&models.ProviderConfig{Provider: models.ProviderSMTP}, Options{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("New() error = %v, want ErrNotConfigured", err)
	}
}
