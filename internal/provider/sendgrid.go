package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/foxzi/mailcast/internal/models"
)

const sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// SendGrid delivers email through the SendGrid v3 API
type SendGrid struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewSendGrid creates a SendGrid provider
func NewSendGrid(cfg models.SendGridConfig, client *http.Client) *SendGrid {
	return &SendGrid{
		apiKey:   cfg.APIKey,
		endpoint: sendGridEndpoint,
		client:   client,
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// Kind implements Provider
func (p *SendGrid) Kind() models.ProviderKind {
	return models.ProviderSendGrid
}

// Send implements Provider
func (p *SendGrid) Send(ctx context.Context, msg *Message) Result {
	req := sendGridRequest{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: msg.ToEmail, Name: msg.ToName}}},
		},
		From:    sendGridAddress{Email: msg.FromEmail, Name: msg.FromName},
		Subject: msg.Subject,
	}
	if msg.Text != "" {
		req.Content = append(req.Content, sendGridContent{Type: "text/plain", Value: msg.Text})
	}
	req.Content = append(req.Content, sendGridContent{Type: "text/html", Value: msg.HTML})

	body, err := json.Marshal(req)
	if err != nil {
		return failure("failed to encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure("failed to create request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return failure("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return failure("invalid API key (401 Unauthorized), check the SendGrid configuration")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure("status: %d, body: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	return success(resp.Header.Get("X-Message-Id"))
}
