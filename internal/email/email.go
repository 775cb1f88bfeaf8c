// Package email provides address helpers shared by the ledger, the personalizer and the providers.
package email

import (
	"net/mail"
	"strings"
)

// Normalize returns the canonical form of an address used as the ledger key.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// LocalPart returns the part of the address before the last "@".
// An address without "@" is returned unchanged.
func LocalPart(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	return addr[:at]
}

// ExtractDomain returns the lower-cased domain of addr, or "" when there is none.
// Display-name forms such as "Ann <ann@example.com>" are accepted.
func ExtractDomain(addr string) string {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// ExtractDomainOrDefault is ExtractDomain with a fallback for addresses without a domain.
func ExtractDomainOrDefault(addr, fallback string) string {
	if domain := ExtractDomain(addr); domain != "" {
		return domain
	}
	return fallback
}

// FormatAddress renders a display-name address suitable for a From header.
func FormatAddress(addr, name string) string {
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}
