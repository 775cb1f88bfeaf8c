package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/mailcast/internal/dkim"
	"github.com/foxzi/mailcast/internal/models"
)

// SMTP delivers email through a configured relay. A new connection is opened per message.
type SMTP struct {
	cfg       models.SMTPConfig
	hostname  string
	timeout   time.Duration
	signer    *dkim.Signer
	logger    *slog.Logger
	tlsConfig *tls.Config
}

// NewSMTP creates an SMTP provider. signer may be nil.
func NewSMTP(cfg models.SMTPConfig, hostname string, timeout time.Duration, signer *dkim.Signer, logger *slog.Logger) *SMTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if hostname == "" {
		hostname = "localhost"
	}
	return &SMTP{
		cfg:      cfg,
		hostname: hostname,
		timeout:  timeout,
		signer:   signer,
		logger:   logger,
		tlsConfig: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
	}
}

// Kind implements Provider
func (p *SMTP) Kind() models.ProviderKind {
	return models.ProviderSMTP
}

// Send implements Provider
func (p *SMTP) Send(ctx context.Context, msg *Message) Result {
	data, messageID := buildMessage(msg, time.Now())

	if p.signer != nil && p.signer.Covers(msg.FromEmail) {
		signed, err := p.signer.SignBytes(data)
		if err != nil {
			p.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", p.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	if err := p.deliver(ctx, msg.FromEmail, msg.ToEmail, data); err != nil {
		return failure("%v", err)
	}

	p.logger.Debug("message delivered", "host", p.cfg.Host, "to", msg.ToEmail)
	return success(messageID)
}

func (p *SMTP) port() int {
	if p.cfg.Port > 0 {
		return p.cfg.Port
	}
	if p.cfg.Secure {
		return 465
	}
	return 587
}

func (p *SMTP) deliver(ctx context.Context, from, to string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if p.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("server %s does not support AUTH", p.cfg.Host)
		}
		if err := client.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to, nil); err != nil {
		return fmt.Errorf("RCPT TO %s failed: %w", to, err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("DATA close failed: %w", err)
	}

	client.Quit()
	return nil
}

// connect returns a session ready for MAIL FROM. Without implicit TLS the relay's
// STARTTLS is used when offered; a failed upgrade falls back to a plain session.
func (p *SMTP) connect(ctx context.Context) (*smtp.Client, error) {
	if p.cfg.Secure {
		return p.open(ctx, false)
	}

	client, err := p.open(ctx, false)
	if err != nil {
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); !ok {
		return client, nil
	}
	client.Quit()

	client, err = p.open(ctx, true)
	if err == nil {
		return client, nil
	}
	p.logger.Warn("STARTTLS failed, continuing without encryption",
		"host", p.cfg.Host,
		"error", err,
	)
	return p.open(ctx, false)
}

// open dials the relay and completes the greeting. The connection is closed
// when ctx ends.
func (p *SMTP) open(ctx context.Context, startTLS bool) (*smtp.Client, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.port()))
	dialer := &net.Dialer{Timeout: p.timeout}

	var conn net.Conn
	var err error
	if p.cfg.Secure {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: p.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connection failed to %s: %w", addr, err)
	}
	context.AfterFunc(ctx, func() { conn.Close() })

	var client *smtp.Client
	if startTLS {
		client, err = smtp.NewClientStartTLS(conn, p.tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	} else {
		client = smtp.NewClient(conn)
	}
	client.CommandTimeout = p.timeout
	client.SubmissionTimeout = p.timeout

	// after STARTTLS this is the first exchange over TLS and runs the handshake
	if err := client.Hello(p.hostname); err != nil {
		client.Close()
		return nil, fmt.Errorf("HELO failed: %w", err)
	}
	return client, nil
}
