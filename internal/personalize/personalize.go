// Package personalize renders recipient placeholders and tracking pixels into message bodies.
package personalize

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/foxzi/mailcast/internal/email"
	"github.com/foxzi/mailcast/internal/models"
)

// variable pattern for substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

var bodyClosePattern = regexp.MustCompile(`(?i)</body>`)

const trackingVar = "tracking"

// Vars returns the built-in placeholder values for a recipient.
// name falls back to the local part of the email address.
func Vars(r *models.Recipient) map[string]string {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = email.LocalPart(r.Email)
	}
	return map[string]string{
		"name":  name,
		"email": r.Email,
	}
}

// Render substitutes {{variable}} patterns. Unknown variables are kept as is.
func Render(template string, vars map[string]string) string {
	if template == "" {
		return template
	}

	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		varName := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[varName]; ok {
			return value
		}
		return match
	})
}

// Personalize renders recipient placeholders into an HTML body.
//
// With a non-empty trackingURL a 1x1 pixel is placed at {{tracking}} if present,
// otherwise right before the last </body>, otherwise at the end of the content.
// With an empty trackingURL the {{tracking}} placeholder is removed.
func Personalize(content string, r *models.Recipient, trackingURL string) string {
	vars := Vars(r)

	pixel := ""
	if trackingURL != "" {
		pixel = Pixel(trackingURL)
	}

	placed := false
	out := varPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := strings.TrimSpace(match[2 : len(match)-2])
		if varName == trackingVar {
			placed = true
			return pixel
		}
		if value, ok := vars[varName]; ok {
			return value
		}
		return match
	})

	if pixel == "" || placed {
		return out
	}

	if locs := bodyClosePattern.FindAllStringIndex(out, -1); len(locs) > 0 {
		at := locs[len(locs)-1][0]
		return out[:at] + pixel + out[at:]
	}
	return out + pixel
}

// Pixel returns the invisible tracking image tag for url
func Pixel(trackingURL string) string {
	return `<img src="` + html.EscapeString(trackingURL) +
		`" alt="" width="1" height="1" style="display:none;visibility:hidden;" />`
}

// TrackingURL builds the open-tracking URL for a delivery record
func TrackingURL(baseURL, deliveryID string) string {
	q := url.Values{}
	q.Set("id", deliveryID)
	q.Set("type", "open")
	return strings.TrimRight(baseURL, "/") + "/track?" + q.Encode()
}

// ClickURL builds a click-tracking redirect URL for target
func ClickURL(baseURL, deliveryID, target string) string {
	q := url.Values{}
	q.Set("id", deliveryID)
	q.Set("type", "click")
	q.Set("url", target)
	return strings.TrimRight(baseURL, "/") + "/track?" + q.Encode()
}
