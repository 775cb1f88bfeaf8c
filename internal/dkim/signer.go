// Package dkim signs outgoing SMTP messages and manages DKIM keys.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/foxzi/mailcast/internal/email"
)

// signedHeaders is the header set covered by the signature
var signedHeaders = []string{"From", "To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type"}

// Signer signs messages for one domain and selector
type Signer struct {
	key      *rsa.PrivateKey
	domain   string
	selector string
}

// NewSigner creates a signer for domain/selector
func NewSigner(key *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{
		key:      key,
		domain:   strings.ToLower(domain),
		selector: selector,
	}
}

// Load creates a signer from a PEM key file
func Load(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector), nil
}

// Covers reports whether the sender address belongs to the signing domain
// or one of its subdomains
func (s *Signer) Covers(from string) bool {
	d := email.ExtractDomain(from)
	return d == s.domain || strings.HasSuffix(d, "."+s.domain)
}

// Sign reads a complete message from r and writes it with a DKIM-Signature header to w
func (s *Signer) Sign(w io.Writer, r io.Reader) error {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 crypto.Signer(s.key),
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys:             signedHeaders,
	}
	if err := dkim.Sign(w, r, options); err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}
	return nil
}

// SignBytes returns the signed copy of message
func (s *Signer) SignBytes(message []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Sign(&buf, bytes.NewReader(message)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Domain returns the signing domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DKIM selector
func (s *Signer) Selector() string {
	return s.selector
}
