package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/foxzi/mailcast/internal/email"
	"github.com/foxzi/mailcast/internal/models"
)

const (
	mailgunBaseURL   = "https://api.mailgun.net"
	mailgunEUBaseURL = "https://api.eu.mailgun.net"
)

// Mailgun delivers email through the Mailgun messages API
type Mailgun struct {
	apiKey  string
	domain  string
	baseURL string
	client  *http.Client
}

// NewMailgun creates a Mailgun provider. Region "eu" selects the EU endpoint.
func NewMailgun(cfg models.MailgunConfig, client *http.Client) *Mailgun {
	base := mailgunBaseURL
	if strings.EqualFold(cfg.Region, "eu") {
		base = mailgunEUBaseURL
	}
	return &Mailgun{
		apiKey:  cfg.APIKey,
		domain:  cfg.Domain,
		baseURL: base,
		client:  client,
	}
}

// Kind implements Provider
func (p *Mailgun) Kind() models.ProviderKind {
	return models.ProviderMailgun
}

// Send implements Provider
func (p *Mailgun) Send(ctx context.Context, msg *Message) Result {
	form := url.Values{}
	form.Set("from", email.FormatAddress(msg.FromEmail, msg.FromName))
	form.Set("to", email.FormatAddress(msg.ToEmail, msg.ToName))
	form.Set("subject", msg.Subject)
	form.Set("html", msg.HTML)
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}

	endpoint := p.baseURL + "/v3/" + url.PathEscape(p.domain) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failure("failed to create request: %v", err)
	}
	req.SetBasicAuth("api", p.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return failure("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure("status: %d, body: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var out struct {
		ID string `json:"id"`
	}
	// a 2xx without a parsable body is still an accepted message
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return success(out.ID)
}
