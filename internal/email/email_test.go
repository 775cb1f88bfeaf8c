package email

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@example.com", "user@example.com"},
		{"  User@Example.COM ", "user@example.com"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLocalPart(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"simple", "a@x.com", "a"},
		{"dotted", "john.doe@example.com", "john.doe"},
		{"quoted at", `"a@b"@example.com`, `"a@b"`},
		{"no at", "nobody", "nobody"},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := LocalPart(tc.email); got != tc.expected {
				t.Errorf("LocalPart(%q) = %q, want %q", tc.email, got, tc.expected)
			}
		})
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"simple", "user@example.com", "example.com"},
		{"with name", "User Name <user@example.com>", "example.com"},
		{"uppercase", "user@EXAMPLE.COM", "example.com"},
		{"invalid no at", "invalid", ""},
		{"invalid empty before at", "@example.com", ""},
		{"invalid empty after at", "user@", ""},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ExtractDomain(tc.email)
			if result != tc.expected {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tc.email, result, tc.expected)
			}
		})
	}
}

func TestExtractDomainOrDefault(t *testing.T) {
	if got := ExtractDomainOrDefault("invalid", "localhost"); got != "localhost" {
		t.Errorf("ExtractDomainOrDefault() = %q, want localhost", got)
	}
	if got := ExtractDomainOrDefault("user@example.com", "localhost"); got != "example.com" {
		t.Errorf("ExtractDomainOrDefault() = %q, want example.com", got)
	}
}

func TestFormatAddress(t *testing.T) {
	if got := FormatAddress("news@example.com", ""); got != "news@example.com" {
		t.Errorf("FormatAddress() = %q", got)
	}
	if got := FormatAddress("news@example.com", "Example News"); got != `"Example News" <news@example.com>` {
		t.Errorf("FormatAddress() = %q", got)
	}
}
