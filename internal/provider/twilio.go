package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/foxzi/mailcast/internal/models"
)

const twilioBaseURL = "https://api.twilio.com"

// Twilio delivers SMS through the Twilio Messages API
type Twilio struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	client     *http.Client
}

// NewTwilio creates a Twilio provider
func NewTwilio(cfg models.TwilioConfig, client *http.Client) *Twilio {
	return &Twilio{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    twilioBaseURL,
		client:     client,
	}
}

// Kind implements Provider
func (p *Twilio) Kind() models.ProviderKind {
	return models.ProviderTwilio
}

// Send implements Provider. The SMS body is the subject line followed by the
// plain-text rendering of the HTML content.
func (p *Twilio) Send(ctx context.Context, msg *Message) Result {
	if strings.TrimSpace(msg.Phone) == "" {
		return failure("no phone number for recipient")
	}
	if p.accountSID == "" || p.authToken == "" || p.fromNumber == "" {
		return failure("twilio credentials are not configured")
	}

	form := url.Values{}
	form.Set("To", msg.Phone)
	form.Set("From", p.fromNumber)
	form.Set("Body", SMSBody(msg))

	endpoint := p.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.accountSID) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failure("failed to create request: %v", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
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
		SID string `json:"sid"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return success(out.SID)
}

// SMSBody renders the text sent over SMS
func SMSBody(msg *Message) string {
	text := msg.Text
	if text == "" {
		text = HTMLToText(msg.HTML)
	}
	if msg.Subject == "" {
		return text
	}
	if text == "" {
		return msg.Subject
	}
	return msg.Subject + "\n" + text
}
