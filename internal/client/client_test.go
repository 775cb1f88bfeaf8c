package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foxzi/mailcast/internal/api"
	"github.com/foxzi/mailcast/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Unauthorized"})
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "k")
}

func TestCampaignActions(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.ActionResponse{ID: "c1", Status: "starting"})
	})
	ctx := context.Background()

	resp, err := c.StartCampaign(ctx, "c1")
	if err != nil {
		t.Fatalf("StartCampaign() error = %v", err)
	}
	if resp.ID != "c1" || resp.Status != "starting" {
		t.Errorf("response = %+v", resp)
	}
	c.PauseCampaign(ctx, "c1")
	c.ResumeCampaign(ctx, "c1")

	want := []string{
		"POST /api/v1/campaigns/c1/start",
		"POST /api/v1/campaigns/c1/pause",
		"POST /api/v1/campaigns/c1/resume",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestGetCampaignAndDeliveries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/campaigns/c1":
			json.NewEncoder(w).Encode(api.CampaignResponse{
				Campaign:   &models.Campaign{ID: "c1", Status: models.CampaignSending, Total: 3, Sent: 1},
				Running:    true,
				Deliveries: models.DeliveryCounts{Sent: 1},
			})
		case "/api/v1/campaigns/c1/deliveries":
			if got := r.URL.Query().Get("status"); got != "failed" {
				t.Errorf("status filter = %q", got)
			}
			json.NewEncoder(w).Encode(api.DeliveriesResponse{
				CampaignID: "c1",
				Deliveries: []*models.DeliveryRecord{{ID: "d1", Status: models.DeliveryFailed}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	camp, err := c.GetCampaign(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCampaign() error = %v", err)
	}
	if camp.Campaign.Sent != 1 || !camp.Running || camp.Deliveries.Sent != 1 {
		t.Errorf("campaign = %+v", camp)
	}

	dl, err := c.Deliveries(ctx, "c1", models.DeliveryFailed)
	if err != nil {
		t.Fatalf("Deliveries() error = %v", err)
	}
	if len(dl.Deliveries) != 1 || dl.Deliveries[0].ID != "d1" {
		t.Errorf("deliveries = %+v", dl.Deliveries)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "campaign is already running"})
	})

	_, err := c.StartCampaign(context.Background(), "c1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "campaign is already running" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	c.apiKey = "wrong"

	_, err := c.Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("error = %v, want 401", err)
	}
}

func TestTestSendProviderFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.TestSendRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.To != "a@x.com" {
			t.Errorf("To = %q", req.To)
		}
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"success":false,"error":"relay refused"}`))
	})

	res, err := c.TestSend(context.Background(), &api.TestSendRequest{To: "a@x.com", Subject: "s"})
	if err != nil {
		t.Fatalf("TestSend() error = %v", err)
	}
	if res.Success || res.Error != "relay refused" {
		t.Errorf("result = %+v", res)
	}
}

func TestDeleteCampaignNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteCampaign(context.Background(), "c1"); err != nil {
		t.Errorf("DeleteCampaign() error = %v", err)
	}
}
