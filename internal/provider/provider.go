// Package provider delivers single personalized messages through one of the
// supported transports.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxzi/mailcast/internal/dkim"
	"github.com/foxzi/mailcast/internal/models"
)

// DefaultTimeout bounds one provider call when no timeout is configured
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response body ends up in an error message
const maxErrorBody = 2048

// ErrNotConfigured is returned by New when no usable provider configuration exists
var ErrNotConfigured = errors.New("provider is not configured")

// Message is one rendered message for one recipient
type Message struct {
	FromEmail string
	FromName  string
	ToEmail   string
	ToName    string
	Phone     string
	Subject   string
	HTML      string
	Text      string
}

// Result is the outcome of a send. Transport failures are reported here, never as panics or errors.
type Result struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func success(id string) Result {
	return Result{Success: true, MessageID: id}
}

func failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Provider sends a message to a single recipient
type Provider interface {
	Kind() models.ProviderKind
	Send(ctx context.Context, msg *Message) Result
}

// Options tune transports independently of the stored configuration
type Options struct {
	Timeout  time.Duration
	Hostname string       // HELO name for SMTP
	Signer   *dkim.Signer // optional DKIM signer for SMTP
	Logger   *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Hostname == "" {
		o.Hostname = "localhost"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// New builds the provider selected by cfg
func New(cfg *models.ProviderConfig, opts Options) (Provider, error) {
	if cfg == nil || !cfg.IsConfigured {
		return nil, ErrNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider configuration: %w", err)
	}
	opts.setDefaults()

	httpClient := &http.Client{Timeout: opts.Timeout}
	logger := opts.Logger.With("component", "provider", "provider", string(cfg.Provider))

	switch cfg.Provider {
	case models.ProviderSendGrid:
		return NewSendGrid(cfg.SendGrid, httpClient), nil
	case models.ProviderMailgun:
		return NewMailgun(cfg.Mailgun, httpClient), nil
	case models.ProviderSMTP:
		return NewSMTP(cfg.SMTP, opts.Hostname, opts.Timeout, opts.Signer, logger), nil
	case models.ProviderTwilio:
		return NewTwilio(cfg.Twilio, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// readErrorBody returns a bounded copy of a failed response body
func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(body)
}
