package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/foxzi/mailcast/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHelpersWithoutGlobal(t *testing.T) {
	SetGlobal(nil)

	// must not panic
	IncRunStarted("manual")
	IncRunFinished("sent")
	ObserveDelivery("smtp", true, time.Millisecond)
	IncDeliverySkipped()
	IncSchedulerPoll(nil, 1)
	IncNotification("log", nil)
}

func TestHelpers(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncRunStarted("scheduled")
	if got := testutil.ToFloat64(m.CampaignsActive); got != 1 {
		t.Errorf("CampaignsActive = %v, want 1", got)
	}
	IncRunFinished("sent")
	if got := testutil.ToFloat64(m.CampaignsActive); got != 0 {
		t.Errorf("CampaignsActive = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.CampaignRunsFinished.WithLabelValues("sent")); got != 1 {
		t.Errorf("CampaignRunsFinished{sent} = %v, want 1", got)
	}

	ObserveDelivery("sendgrid", true, 10*time.Millisecond)
	ObserveDelivery("sendgrid", false, 10*time.Millisecond)
	ObserveDelivery("sendgrid", true, 10*time.Millisecond)
	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("sendgrid", "sent")); got != 2 {
		t.Errorf("DeliveriesTotal{sent} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("sendgrid", "failed")); got != 1 {
		t.Errorf("DeliveriesTotal{failed} = %v, want 1", got)
	}

	IncSchedulerPoll(errors.New("boom"), 0)
	IncSchedulerPoll(nil, 3)
	if got := testutil.ToFloat64(m.SchedulerPromotedTotal); got != 3 {
		t.Errorf("SchedulerPromotedTotal = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SchedulerPollsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("SchedulerPollsTotal{error} = %v, want 1", got)
	}

	IncNotification("telegram", errors.New("down"))
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("telegram", "error")); got != 1 {
		t.Errorf("NotificationsTotal{telegram,error} = %v, want 1", got)
	}
}

type fakeCounter map[models.CampaignStatus]int

func (f fakeCounter) CountCampaigns(ctx context.Context) (map[models.CampaignStatus]int, error) {
	return f, nil
}

func TestCollector(t *testing.T) {
	m := New()
	path := filepath.Join(t.TempDir(), "data.db")
	if err := os.WriteFile(path, make([]byte, 4096), 0600); err != nil {
		t.Fatal(err)
	}

	c := NewCollector(m, fakeCounter{models.CampaignSent: 2, models.CampaignDraft: 1}, path, time.Minute, discardLogger())
	c.Collect(context.Background())

	if got := testutil.ToFloat64(m.Campaigns.WithLabelValues("sent")); got != 2 {
		t.Errorf("Campaigns{sent} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Campaigns.WithLabelValues("paused")); got != 0 {
		t.Errorf("Campaigns{paused} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.StorageUsedBytes); got != 4096 {
		t.Errorf("StorageUsedBytes = %v, want 4096", got)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/campaigns/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/campaigns/{id}", "404")); got != 1 {
		t.Errorf("APIRequestsTotal = %v, want 1", got)
	}
}

func TestServerIPFilter(t *testing.T) {
	tests := []struct {
		name       string
		allowedIPs []string
		remoteAddr string
		xff        string
		wantStatus int
	}{
		{
			name:       "no filter",
			remoteAddr: "203.0.113.5:1234",
			wantStatus: http.StatusOK,
		},
		{
			name:       "allowed single IP",
			allowedIPs: []string{"127.0.0.1"},
			remoteAddr: "127.0.0.1:1234",
			wantStatus: http.StatusOK,
		},
		{
			name:       "allowed CIDR",
			allowedIPs: []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:1234",
			wantStatus: http.StatusOK,
		},
		{
			name:       "denied",
			allowedIPs: []string{"10.0.0.0/8"},
			remoteAddr: "192.168.1.1:1234",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "forwarded for",
			allowedIPs: []string{"10.0.0.0/8", "invalid"},
			remoteAddr: "192.168.1.1:1234",
			xff:        "10.9.9.9, 192.168.1.1",
			wantStatus: http.StatusOK,
		},
		{
			name:       "IPv6",
			allowedIPs: []string{"::1"},
			remoteAddr: "[::1]:1234",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(New(), ":0", "/metrics", tt.allowedIPs, discardLogger())

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServerExposesMetrics(t *testing.T) {
	m := New()
	m.DeliveriesSkippedTotal.Inc()

	s := NewServer(m, "", "", nil, discardLogger())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "mailcast_deliveries_skipped_total 1") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}
