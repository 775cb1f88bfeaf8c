package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/mailcast/internal/models"
	"github.com/foxzi/mailcast/internal/store"
)

const testFixture = `
provider:
  provider: smtp
  from_email: news@example.com
  smtp:
    host: relay.example.com
    port: 587
  tracking_enabled: true
templates:
  - id: welcome
    name: Welcome
    subject: Hi {{name}}
    html_content: <p>Welcome {{name}}</p>
recipients:
  - id: r1
    email: alice@example.com
    name: Alice
  - id: r2
    email: bob@example.com
campaigns:
  - id: c1
    name: Launch
    template_id: welcome
    recipient_ids: [r1, r2]
  - id: c2
    name: Later
    subject: Soon
    html_content: <p>soon</p>
    recipient_ids: [r1]
    scheduled_at: 2030-01-02T15:04:05Z
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestSeedStore(t *testing.T) {
	fixture, err := loadFixture(writeFixture(t, testFixture))
	if err != nil {
		t.Fatalf("loadFixture() error = %v", err)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "mailcast.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	res, err := seedStore(ctx, st, fixture)
	if err != nil {
		t.Fatalf("seedStore() error = %v", err)
	}
	if !res.provider || res.templates != 1 || res.recipients != 2 || res.campaigns != 2 {
		t.Errorf("unexpected result %+v", res)
	}

	cfg, err := st.GetProviderConfig(ctx)
	if err != nil {
		t.Fatalf("GetProviderConfig() error = %v", err)
	}
	if !cfg.IsConfigured || cfg.SMTP.Host != "relay.example.com" || !cfg.TrackingEnabled {
		t.Errorf("unexpected provider config %+v", cfg)
	}

	c1, err := st.GetCampaign(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCampaign(c1) error = %v", err)
	}
	if c1.Status != models.CampaignDraft || c1.Total != 2 || c1.TemplateID != "welcome" {
		t.Errorf("unexpected campaign c1 %+v", c1)
	}

	c2, err := st.GetCampaign(ctx, "c2")
	if err != nil {
		t.Fatalf("GetCampaign(c2) error = %v", err)
	}
	if c2.Status != models.CampaignScheduled || c2.ScheduledAt == nil || c2.ScheduledAt.Year() != 2030 {
		t.Errorf("unexpected campaign c2 %+v", c2)
	}

	// A second run replaces recipients but keeps existing campaigns
	res, err = seedStore(ctx, st, fixture)
	if err != nil {
		t.Fatalf("second seedStore() error = %v", err)
	}
	if res.campaigns != 0 || len(res.skipped) != 2 {
		t.Errorf("expected both campaigns skipped, got %+v", res)
	}
}

func TestSeedStoreInvalidProvider(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "mailcast.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	f := &Fixture{Provider: &models.ProviderConfig{Provider: models.ProviderSendGrid, FromEmail: "a@example.com"}}
	if _, err := seedStore(context.Background(), st, f); err == nil {
		t.Error("expected error for sendgrid without api key")
	}
}

func TestLoadFixtureErrors(t *testing.T) {
	if _, err := loadFixture(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := loadFixture(writeFixture(t, "campaigns: [unclosed")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestListenURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000"},
		{"10.0.0.5:8080", "http://10.0.0.5:8080"},
		{"[::]:8080", "http://127.0.0.1:8080"},
		{"localhost", "http://localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := listenURL(tt.addr); got != tt.want {
				t.Errorf("listenURL(%q) = %q, want %q", tt.addr, got, tt.want)
			}
		})
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv(envAPIURL, "")
	t.Setenv("MAILCAST_API_KEY", "")
	apiURL, apiKey, cfgFile = "", "", ""

	if _, err := newClient(); err == nil {
		t.Error("expected error without API key")
	}

	apiKey = "secret"
	defer func() { apiKey = "" }()
	if _, err := newClient(); err != nil {
		t.Errorf("newClient() error = %v", err)
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := generateAPIKey(32)
	if err != nil {
		t.Fatalf("generateAPIKey() error = %v", err)
	}
	if len(key) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(key))
	}

	for _, n := range []int{8, 64} {
		if _, err := generateAPIKey(n); err == nil {
			t.Errorf("expected error for length %d", n)
		}
	}
}

func TestHashAPIKey(t *testing.T) {
	hash, err := hashAPIKey("secret-key")
	if err != nil {
		t.Fatalf("hashAPIKey() error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret-key")); err != nil {
		t.Errorf("hash does not match key: %v", err)
	}

	if _, err := hashAPIKey(""); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"key\n", "key"},
		{"key\r\n", "key"},
		{"key", "key"},
		{"", ""},
	}

	for _, tt := range tests {
		got, err := readLine(strings.NewReader(tt.in))
		if err != nil {
			t.Fatalf("readLine(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("readLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
