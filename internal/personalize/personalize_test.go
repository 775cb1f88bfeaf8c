package personalize

import (
	"strings"
	"testing"

	"github.com/foxzi/mailcast/internal/models"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "simple substitution",
			template: "Hello, {{name}}!",
			vars:     map[string]string{"name": "World"},
			want:     "Hello, World!",
		},
		{
			name:     "spaces inside braces",
			template: "Hello, {{ name }}!",
			vars:     map[string]string{"name": "World"},
			want:     "Hello, World!",
		},
		{
			name:     "missing variable unchanged",
			template: "Hello, {{name}}! Your code is {{code}}.",
			vars:     map[string]string{"name": "John"},
			want:     "Hello, John! Your code is {{code}}.",
		},
		{
			name:     "empty template",
			template: "",
			vars:     map[string]string{"name": "John"},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.template, tt.vars)
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPersonalize(t *testing.T) {
	const trackingURL = "https://mail.example.com/track?id=d1&type=open"
	pixel := Pixel(trackingURL)

	tests := []struct {
		name        string
		content     string
		recipient   models.Recipient
		trackingURL string
		want        string
	}{
		{
			name:      "name falls back to local part",
			content:   "Hi {{name}}, {{email}}",
			recipient: models.Recipient{Email: "a@x.com"},
			want:      "Hi a, a@x.com",
		},
		{
			name:      "explicit name",
			content:   "Hi {{name}}",
			recipient: models.Recipient{Email: "a@x.com", Name: "Alice"},
			want:      "Hi Alice",
		},
		{
			name:      "unknown placeholder kept",
			content:   "Hi {{name}} {{coupon}}",
			recipient: models.Recipient{Email: "a@x.com", Name: "Alice"},
			want:      "Hi Alice {{coupon}}",
		},
		{
			name:      "tracking disabled removes placeholder",
			content:   "<p>x</p>{{tracking}}",
			recipient: models.Recipient{Email: "a@x.com"},
			want:      "<p>x</p>",
		},
		{
			name:        "pixel at placeholder",
			content:     "<body>{{tracking}}<p>x</p></body>",
			recipient:   models.Recipient{Email: "a@x.com"},
			trackingURL: trackingURL,
			want:        "<body>" + pixel + "<p>x</p></body>",
		},
		{
			name:        "pixel before closing body",
			content:     "<html><BODY><p>x</p></BODY></html>",
			recipient:   models.Recipient{Email: "a@x.com"},
			trackingURL: trackingURL,
			want:        "<html><BODY><p>x</p>" + pixel + "</BODY></html>",
		},
		{
			name:        "pixel appended without body",
			content:     "<p>x</p>",
			recipient:   models.Recipient{Email: "a@x.com"},
			trackingURL: trackingURL,
			want:        "<p>x</p>" + pixel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Personalize(tt.content, &tt.recipient, tt.trackingURL)
			if got != tt.want {
				t.Errorf("Personalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPixelEscapesURL(t *testing.T) {
	got := Pixel("https://h/track?id=1&type=open")
	if !strings.Contains(got, `src="https://h/track?id=1&amp;type=open"`) {
		t.Errorf("Pixel() = %q", got)
	}
	if !strings.Contains(got, `width="1" height="1"`) {
		t.Errorf("Pixel() = %q, want 1x1 image", got)
	}
}

func TestTrackingURL(t *testing.T) {
	got := TrackingURL("https://mail.example.com/", "d1")
	want := "https://mail.example.com/track?id=d1&type=open"
	if got != want {
		t.Errorf("TrackingURL() = %q, want %q", got, want)
	}

	got = ClickURL("https://mail.example.com", "d1", "https://shop.example.com/?a=1")
	want = "https://mail.example.com/track?id=d1&type=click&url=https%3A%2F%2Fshop.example.com%2F%3Fa%3D1"
	if got != want {
		t.Errorf("ClickURL() = %q, want %q", got, want)
	}
}
