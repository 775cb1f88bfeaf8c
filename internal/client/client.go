// Package client talks to the mailcast control API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/foxzi/mailcast/internal/api"
	"github.com/foxzi/mailcast/internal/models"
	"github.com/foxzi/mailcast/internal/provider"
)

// DefaultTimeout bounds every API call
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client is a mailcast API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// request performs an HTTP request to the API
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Health checks server health
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.request(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCampaign returns a campaign with its delivery counts
func (c *Client) GetCampaign(ctx context.Context, id string) (*api.CampaignResponse, error) {
	var resp api.CampaignResponse
	if err := c.request(ctx, http.MethodGet, campaignPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartCampaign launches a campaign run
func (c *Client) StartCampaign(ctx context.Context, id string) (*api.ActionResponse, error) {
	return c.action(ctx, id, "start")
}

// PauseCampaign pauses a running or scheduled campaign
func (c *Client) PauseCampaign(ctx context.Context, id string) (*api.ActionResponse, error) {
	return c.action(ctx, id, "pause")
}

// ResumeCampaign restarts a paused campaign
func (c *Client) ResumeCampaign(ctx context.Context, id string) (*api.ActionResponse, error) {
	return c.action(ctx, id, "resume")
}

func (c *Client) action(ctx context.Context, id, verb string) (*api.ActionResponse, error) {
	var resp api.ActionResponse
	if err := c.request(ctx, http.MethodPost, campaignPath(id, "/"+verb), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteCampaign removes a campaign and its delivery records
func (c *Client) DeleteCampaign(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, campaignPath(id, ""), nil, nil)
}

// Deliveries lists delivery records, optionally filtered by status
func (c *Client) Deliveries(ctx context.Context, id string, status models.DeliveryStatus) (*api.DeliveriesResponse, error) {
	path := campaignPath(id, "/deliveries")
	if status != "" {
		path += "?" + url.Values{"status": {string(status)}}.Encode()
	}

	var resp api.DeliveriesResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetProvider returns the provider configuration with secrets masked
func (c *Client) GetProvider(ctx context.Context) (*models.ProviderConfig, error) {
	var resp models.ProviderConfig
	if err := c.request(ctx, http.MethodGet, "/api/v1/provider", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutProvider replaces the provider configuration
func (c *Client) PutProvider(ctx context.Context, cfg *models.ProviderConfig) (*models.ProviderConfig, error) {
	var resp models.ProviderConfig
	if err := c.request(ctx, http.MethodPut, "/api/v1/provider", cfg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestSend sends one message through the configured provider
func (c *Client) TestSend(ctx context.Context, req *api.TestSendRequest) (*provider.Result, error) {
	var resp provider.Result
	err := c.request(ctx, http.MethodPost, "/api/v1/test-send", req, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadGateway {
		// the provider rejected the message; report it as a result
		return &provider.Result{Error: apiErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func campaignPath(id, suffix string) string {
	return "/api/v1/campaigns/" + url.PathEscape(id) + suffix
}
