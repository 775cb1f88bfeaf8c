package dkim

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
)

const testMessage = "From: News <news@example.com>\r\n" +
	"To: a@example.org\r\n" +
	"Subject: Hello\r\n" +
	"Date: Mon, 1 Jan 2024 12:00:00 +0000\r\n" +
	"Message-ID: <1@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi a\r\n"

func TestSignVerifies(t *testing.T) {
	key, err := GenerateKey("example.com", "mc1", 1024)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	record, err := key.TXTRecord()
	if err != nil {
		t.Fatalf("TXTRecord() error = %v", err)
	}

	signed, err := key.Signer().SignBytes([]byte(testMessage))
	if err != nil {
		t.Fatalf("SignBytes() error = %v", err)
	}
	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Fatalf("signed message does not start with DKIM-Signature header")
	}

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != key.RecordName() {
				t.Errorf("lookup for %q, want %q", domain, key.RecordName())
			}
			return []string{record}, nil
		},
	})
	if err != nil {
		t.Fatalf("VerifyWithOptions() error = %v", err)
	}
	if len(verifications) != 1 {
		t.Fatalf("len(verifications) = %d, want 1", len(verifications))
	}
	if verifications[0].Err != nil {
		t.Errorf("verification error = %v", verifications[0].Err)
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	key, err := GenerateKey("example.com", "mc1", 1024)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "keys", "example.com.pem")
	if err := key.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	signer, err := Load(path, "Example.com", "mc1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if signer.Domain() != "example.com" || signer.Selector() != "mc1" {
		t.Errorf("signer = %s/%s", signer.Domain(), signer.Selector())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.pem"), "example.com", "mc1"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestGenerateKeyRejectsSmallKeys(t *testing.T) {
	if _, err := GenerateKey("example.com", "mc1", 512); err == nil {
		t.Error("GenerateKey(512) expected error")
	}
}

func TestCovers(t *testing.T) {
	signer := NewSigner(nil, "example.com", "mc1")

	tests := []struct {
		from string
		want bool
	}{
		{"news@example.com", true},
		{"news@mail.example.com", true},
		{"news@notexample.com", false},
		{"news@example.org", false},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			if got := signer.Covers(tt.from); got != tt.want {
				t.Errorf("Covers(%q) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestRecordName(t *testing.T) {
	named := &Key{Domain: "example.com", Selector: "mc1"}
	if got := named.RecordName(); got != "mc1._domainkey.example.com" {
		t.Errorf("RecordName() = %q", got)
	}

	record := "v=DKIM1; k=rsa; p="
	key, err := GenerateKey("example.com", "mc1", 1024)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	txt, err := key.TXTRecord()
	if err != nil || !strings.HasPrefix(txt, record) {
		t.Errorf("TXTRecord() = %q, %v", txt, err)
	}
}
