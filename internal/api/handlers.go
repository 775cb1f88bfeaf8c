package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/mailcast/internal/dispatch"
	"github.com/foxzi/mailcast/internal/models"
	"github.com/foxzi/mailcast/internal/personalize"
	"github.com/foxzi/mailcast/internal/provider"
	"github.com/foxzi/mailcast/internal/store"
)

// CampaignResponse is the response for GET /campaigns/{id}
type CampaignResponse struct {
	*models.Campaign
	Running    bool                  `json:"running"`
	Deliveries models.DeliveryCounts `json:"deliveries"`
}

// ActionResponse is the response for start, pause and resume
type ActionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DeliveriesResponse is the response for GET /campaigns/{id}/deliveries
type DeliveriesResponse struct {
	CampaignID string                   `json:"campaign_id"`
	Deliveries []*models.DeliveryRecord `json:"deliveries"`
}

// TestSendRequest is the request body for POST /test-send
type TestSendRequest struct {
	To      string `json:"to"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status    string                        `json:"status"`
	Version   string                        `json:"version"`
	Uptime    string                        `json:"uptime"`
	Campaigns map[models.CampaignStatus]int `json:"campaigns,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.storeError(w, "get campaign", id, err)
		return
	}

	counts, err := s.ledger.Counts(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to count deliveries", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to count deliveries")
		return
	}

	s.sendJSON(w, http.StatusOK, CampaignResponse{
		Campaign:   c,
		Running:    s.campaigns.Running(id),
		Deliveries: counts,
	})
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}.
// An active run notices the deletion at its next recipient and aborts.
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteCampaign(r.Context(), id); err != nil {
		s.storeError(w, "delete campaign", id, err)
		return
	}
	if err := s.ledger.DeleteCampaign(r.Context(), id); err != nil {
		s.logger.Error("failed to delete delivery records", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete delivery records")
		return
	}

	s.logger.Info("campaign deleted via API", "campaign_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleStartCampaign handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.storeError(w, "get campaign", id, err)
		return
	}
	if !startable(c.Status) {
		s.sendError(w, http.StatusConflict, "Campaign is "+string(c.Status)+" and cannot be started")
		return
	}

	if err := s.campaigns.Start(r.Context(), id, s.baseURL); err != nil {
		s.controlError(w, "start", id, err)
		return
	}

	s.logger.Info("campaign started via API", "campaign_id", id)
	s.sendJSON(w, http.StatusAccepted, ActionResponse{ID: id, Status: "starting"})
}

// handlePauseCampaign handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.campaigns.Pause(r.Context(), id); err != nil {
		s.controlError(w, "pause", id, err)
		return
	}

	s.sendJSON(w, http.StatusOK, ActionResponse{ID: id, Status: string(models.CampaignPaused)})
}

// handleResumeCampaign handles POST /api/v1/campaigns/{id}/resume
func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.campaigns.Resume(r.Context(), id, s.baseURL); err != nil {
		s.controlError(w, "resume", id, err)
		return
	}

	s.sendJSON(w, http.StatusAccepted, ActionResponse{ID: id, Status: "resuming"})
}

// handleDeliveries handles GET /api/v1/campaigns/{id}/deliveries?status=
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status := models.DeliveryStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.DeliveryPending, models.DeliverySent, models.DeliveryFailed:
	default:
		s.sendError(w, http.StatusBadRequest, "status must be pending, sent or failed")
		return
	}

	exists, err := s.store.CampaignExists(r.Context(), id)
	if err != nil {
		s.storeError(w, "get campaign", id, err)
		return
	}
	if !exists {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	records, err := s.ledger.ListByCampaign(r.Context(), id, status)
	if err != nil {
		s.logger.Error("failed to list deliveries", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list deliveries")
		return
	}
	if records == nil {
		records = []*models.DeliveryRecord{}
	}

	s.sendJSON(w, http.StatusOK, DeliveriesResponse{CampaignID: id, Deliveries: records})
}

// handleGetProvider handles GET /api/v1/provider
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetProviderConfig(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Provider is not configured")
		return
	}
	if err != nil {
		s.logger.Error("failed to get provider config", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get provider config")
		return
	}

	s.sendJSON(w, http.StatusOK, cfg.Redacted())
}

// handlePutProvider handles PUT /api/v1/provider. Masked secrets keep their stored value.
func (s *Server) handlePutProvider(w http.ResponseWriter, r *http.Request) {
	var cfg models.ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	current, err := s.store.GetProviderConfig(r.Context())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to get provider config", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get provider config")
		return
	}
	keepSecrets(&cfg, current)

	if err := cfg.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.IsConfigured = true

	if err := s.store.PutProviderConfig(r.Context(), &cfg); err != nil {
		s.logger.Error("failed to store provider config", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to store provider config")
		return
	}

	s.logger.Info("provider configured via API", "provider", string(cfg.Provider))
	s.sendJSON(w, http.StatusOK, cfg.Redacted())
}

// keepSecrets replaces masked credentials with the stored ones
func keepSecrets(cfg, current *models.ProviderConfig) {
	if current == nil {
		current = &models.ProviderConfig{}
	}
	keep := func(dst *string, stored string) {
		if *dst == models.RedactedSecret {
			*dst = stored
		}
	}
	keep(&cfg.SendGrid.APIKey, current.SendGrid.APIKey)
	keep(&cfg.Mailgun.APIKey, current.Mailgun.APIKey)
	keep(&cfg.SMTP.Password, current.SMTP.Password)
	keep(&cfg.Twilio.AuthToken, current.Twilio.AuthToken)
}

// handleTestSend handles POST /api/v1/test-send. The message goes through the
// configured provider without a campaign or ledger record.
func (s *Server) handleTestSend(w http.ResponseWriter, r *http.Request) {
	var req TestSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.To == "" && req.Phone == "" {
		s.sendError(w, http.StatusBadRequest, "to or phone is required")
		return
	}
	if req.Subject == "" && req.HTML == "" {
		s.sendError(w, http.StatusBadRequest, "subject or html is required")
		return
	}

	cfg, err := s.store.GetProviderConfig(r.Context())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to get provider config", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get provider config")
		return
	}
	if cfg == nil || !cfg.IsConfigured {
		s.sendError(w, http.StatusPreconditionFailed, provider.ErrNotConfigured.Error())
		return
	}

	prov, err := s.newProvider(cfg)
	if err != nil {
		s.sendError(w, http.StatusPreconditionFailed, err.Error())
		return
	}

	rcpt := &models.Recipient{Email: req.To, Name: req.Name, Phone: req.Phone}
	msg := &provider.Message{
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
		ToEmail:   req.To,
		ToName:    req.Name,
		Phone:     req.Phone,
		Subject:   personalize.Render(req.Subject, personalize.Vars(rcpt)),
		HTML:      personalize.Personalize(req.HTML, rcpt, ""),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	res := prov.Send(ctx, msg)
	s.logger.Info("test message sent via API",
		"provider", string(prov.Kind()),
		"to", req.To,
		"success", res.Success,
		"error", res.Error,
	)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	s.sendJSON(w, status, res)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountCampaigns(r.Context())
	if err != nil {
		s.logger.Warn("failed to count campaigns", "error", err)
	}

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Campaigns: counts,
	})
}

func startable(status models.CampaignStatus) bool {
	for _, st := range models.Startable {
		if st == status {
			return true
		}
	}
	return false
}

// storeError maps storage errors to responses
func (s *Server) storeError(w http.ResponseWriter, op, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	s.logger.Error("failed to "+op, "campaign_id", id, "error", err)
	s.sendError(w, http.StatusInternalServerError, "Failed to "+op)
}

// controlError maps dispatcher errors to responses
func (s *Server) controlError(w http.ResponseWriter, op, id string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Campaign not found")
	case errors.Is(err, store.ErrIneligible):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrAlreadyRunning):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("failed to "+op+" campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to "+op+" campaign")
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
