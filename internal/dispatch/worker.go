package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/foxzi/mailcast/internal/email"
	"github.com/foxzi/mailcast/internal/metrics"
	"github.com/foxzi/mailcast/internal/models"
	"github.com/foxzi/mailcast/internal/notify"
	"github.com/foxzi/mailcast/internal/personalize"
	"github.com/foxzi/mailcast/internal/provider"
	"github.com/foxzi/mailcast/internal/store"
)

// run outcomes, used as metric labels
const (
	outcomeSkipped = "skipped"
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomePaused  = "paused"
	outcomeStopped = "stopped"
	outcomeAborted = "aborted"
)

const notifyTimeout = 30 * time.Second

// content is the campaign message before personalization
type content struct {
	subject string
	html    string
}

func (d *Dispatcher) execute(r *run) {
	defer d.wg.Done()
	defer d.unregister(r)

	logger := d.logger.With("campaign_id", r.campaignID, "trigger", string(r.trigger))
	outcome := outcomeFailed

	var pc panics.Catcher
	pc.Try(func() {
		var err error
		outcome, err = d.process(r, logger)
		if err != nil {
			logger.Error("campaign run failed", "error", err)
			d.forceFailed(r.campaignID, logger)
			outcome = outcomeFailed
		}
	})
	if rec := pc.Recovered(); rec != nil {
		logger.Error("campaign run panicked", "panic", rec.Value, "stack", string(rec.Stack))
		d.forceFailed(r.campaignID, logger)
		outcome = outcomeFailed
	}

	metrics.IncRunFinished(outcome)
	logger.Debug("campaign run returned", "outcome", outcome)
}

// process performs one run. A returned error means the run broke after the claim
// and the campaign must be forced to failed.
func (d *Dispatcher) process(r *run, logger *slog.Logger) (string, error) {
	// in-flight sends complete on shutdown; pause and stop act between recipients
	ctx := context.WithoutCancel(d.ctx)
	startedAt := time.Now()

	c, err := d.store.Transition(ctx, r.campaignID, models.Startable, models.CampaignSending)
	if err != nil {
		if errors.Is(err, store.ErrIneligible) || errors.Is(err, store.ErrNotFound) {
			logger.Debug("campaign not eligible for sending", "error", err)
		} else {
			logger.Error("failed to claim campaign", "error", err)
		}
		return outcomeSkipped, nil
	}
	logger.Info("campaign run started")

	cfg, err := d.store.GetProviderConfig(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to load provider configuration: %w", err)
	}
	var prov provider.Provider
	if cfg == nil || !cfg.IsConfigured {
		err = provider.ErrNotConfigured
	} else {
		prov, err = d.newProvider(cfg)
	}
	if err != nil {
		logger.Error("no usable provider, failing campaign", "error", err)
		if err := d.store.SetStatus(ctx, c.ID, models.CampaignFailed); err != nil {
			return "", fmt.Errorf("failed to mark campaign failed: %w", err)
		}
		c.Status = models.CampaignFailed
		d.notify(ctx, c, startedAt, logger)
		return outcomeFailed, nil
	}

	msg, err := d.resolveContent(ctx, c, logger)
	if err != nil {
		return "", err
	}

	recipients, missing, err := d.store.GetRecipients(ctx, c.RecipientIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(missing) > 0 {
		logger.Warn("skipping unknown recipients", "count", len(missing), "ids", missing)
	}
	recipients = uniqueByEmail(recipients, logger)

	if err := d.reconcileCounters(ctx, c.ID, recipients); err != nil {
		return "", err
	}

	for i, rcpt := range recipients {
		if stop, outcome := d.checkBoundary(ctx, r, logger); stop {
			return outcome, nil
		}

		d.deliver(ctx, r, c.ID, cfg, prov, msg, rcpt, logger)

		if c.DelaySeconds > 0 && i < len(recipients)-1 {
			timer := time.NewTimer(time.Duration(c.DelaySeconds) * time.Second)
			select {
			case <-r.stop:
			case <-timer.C:
			}
			timer.Stop()
		}
	}

	return d.finish(ctx, c.ID, startedAt, logger)
}

// resolveContent takes the inline body and subject, falling back to the referenced template
func (d *Dispatcher) resolveContent(ctx context.Context, c *models.Campaign, logger *slog.Logger) (content, error) {
	msg := content{subject: c.Subject, html: c.HTMLContent}
	if (msg.html != "" && msg.subject != "") || c.TemplateID == "" {
		return msg, nil
	}

	t, err := d.store.GetTemplate(ctx, c.TemplateID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("campaign template not found", "template_id", c.TemplateID)
		return msg, nil
	}
	if err != nil {
		return msg, fmt.Errorf("failed to load template: %w", err)
	}
	if msg.html == "" {
		msg.html = t.HTMLContent
	}
	if msg.subject == "" {
		msg.subject = t.Subject
	}
	return msg, nil
}

// uniqueByEmail drops recipients whose address already appeared; the ledger
// holds one record per address
func uniqueByEmail(recipients []*models.Recipient, logger *slog.Logger) []*models.Recipient {
	seen := make(map[string]bool, len(recipients))
	out := recipients[:0:0]
	for _, r := range recipients {
		key := email.Normalize(r.Email)
		if seen[key] {
			logger.Warn("skipping duplicate recipient address", "recipient_id", r.ID, "email", key)
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// reconcileCounters sets Total to the resolved recipient count and derives
// Sent/Failed from terminal ledger records, so counters cannot drift across restarts
func (d *Dispatcher) reconcileCounters(ctx context.Context, campaignID string, recipients []*models.Recipient) error {
	records, err := d.ledger.ListByCampaign(ctx, campaignID, "")
	if err != nil {
		return fmt.Errorf("failed to read delivery ledger: %w", err)
	}

	status := make(map[string]models.DeliveryStatus, len(records))
	for _, rec := range records {
		status[rec.RecipientEmail] = rec.Status
	}

	sent, failed := 0, 0
	for _, r := range recipients {
		switch status[email.Normalize(r.Email)] {
		case models.DeliverySent:
			sent++
		case models.DeliveryFailed:
			failed++
		}
	}

	if err := d.store.SetCounters(ctx, campaignID, len(recipients), sent, failed); err != nil {
		return fmt.Errorf("failed to reset campaign counters: %w", err)
	}
	return nil
}

// checkBoundary decides whether the run continues with the next recipient
func (d *Dispatcher) checkBoundary(ctx context.Context, r *run, logger *slog.Logger) (bool, string) {
	if r.stopping() {
		d.pauseIfSending(ctx, r.campaignID, logger)
		logger.Info("campaign run stopped")
		return true, outcomePaused
	}

	cur, err := d.store.GetCampaign(ctx, r.campaignID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("campaign deleted, aborting run")
		return true, outcomeAborted
	}
	if err != nil {
		logger.Warn("failed to re-read campaign status", "error", err)
		return false, ""
	}

	switch cur.Status {
	case models.CampaignSending:
		return false, ""
	case models.CampaignPaused:
		logger.Info("campaign paused, stopping run", "sent", cur.Sent, "failed", cur.Failed, "total", cur.Total)
		return true, outcomePaused
	default:
		logger.Info("campaign stopped externally", "status", string(cur.Status))
		return true, outcomeStopped
	}
}

func (d *Dispatcher) pauseIfSending(ctx context.Context, campaignID string, logger *slog.Logger) {
	_, err := d.store.Transition(ctx, campaignID, []models.CampaignStatus{models.CampaignSending}, models.CampaignPaused)
	if err != nil && !errors.Is(err, store.ErrIneligible) && !errors.Is(err, store.ErrNotFound) {
		logger.Error("failed to pause campaign", "error", err)
	}
}

// deliver sends to one recipient unless the ledger already has a terminal record for it.
// Persistence errors are logged and the run moves on.
func (d *Dispatcher) deliver(ctx context.Context, r *run, campaignID string, cfg *models.ProviderConfig, prov provider.Provider, msg content, rcpt *models.Recipient, logger *slog.Logger) {
	done, err := d.ledger.HasTerminalRecord(ctx, campaignID, rcpt.Email)
	if err != nil {
		logger.Error("failed to check delivery ledger", "recipient", rcpt.Email, "error", err)
		return
	}
	if done {
		metrics.IncDeliverySkipped()
		logger.Debug("recipient already handled", "recipient", rcpt.Email)
		return
	}

	rec, err := d.ledger.GetOrCreatePending(ctx, campaignID, rcpt.ID, rcpt.Email)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("campaign deleted before delivery", "recipient", rcpt.Email)
		return
	}
	if err != nil {
		logger.Error("failed to create delivery record", "recipient", rcpt.Email, "error", err)
		return
	}

	trackingURL := ""
	if cfg.TrackingEnabled && r.baseURL != "" {
		trackingURL = personalize.TrackingURL(r.baseURL, rec.ID)
	}

	out := &provider.Message{
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
		ToEmail:   rcpt.Email,
		ToName:    rcpt.Name,
		Phone:     rcpt.Phone,
		Subject:   personalize.Render(msg.subject, personalize.Vars(rcpt)),
		HTML:      personalize.Personalize(msg.html, rcpt, trackingURL),
	}

	start := time.Now()
	res := prov.Send(ctx, out)
	metrics.ObserveDelivery(string(prov.Kind()), res.Success, time.Since(start))

	if err := d.ledger.MarkOutcome(ctx, rec, res.Success, res.Error); err != nil {
		logger.Error("failed to record delivery outcome", "recipient", rcpt.Email, "error", err)
		return
	}

	counter := models.CounterSent
	recipientStatus := string(models.DeliverySent)
	if !res.Success {
		counter = models.CounterFailed
		recipientStatus = string(models.DeliveryFailed)
		logger.Warn("delivery failed", "recipient", rcpt.Email, "error", res.Error)
	} else {
		logger.Debug("delivery sent", "recipient", rcpt.Email, "message_id", res.MessageID)
	}

	if err := d.ledger.IncrementCounter(ctx, campaignID, counter); err != nil {
		logger.Error("failed to increment campaign counter", "counter", string(counter), "error", err)
	}
	if err := d.store.UpdateRecipientStatus(ctx, rcpt.ID, recipientStatus); err != nil {
		logger.Debug("failed to update recipient status", "recipient_id", rcpt.ID, "error", err)
	}
}

// finish records the final status and sends the completion summary
func (d *Dispatcher) finish(ctx context.Context, campaignID string, startedAt time.Time, logger *slog.Logger) (string, error) {
	cur, err := d.store.GetCampaign(ctx, campaignID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("campaign deleted before completion")
		return outcomeAborted, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to re-read campaign: %w", err)
	}
	if cur.Status != models.CampaignSending && cur.Status != models.CampaignPaused {
		logger.Info("campaign stopped externally", "status", string(cur.Status))
		return outcomeStopped, nil
	}

	status := models.CampaignSent
	if cur.Total > 0 && cur.Failed == cur.Total {
		status = models.CampaignFailed
	}

	final, err := d.store.Finish(ctx, campaignID, status, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to finish campaign: %w", err)
	}
	logger.Info("campaign run finished",
		"status", string(final.Status),
		"total", final.Total,
		"sent", final.Sent,
		"failed", final.Failed,
	)

	d.notify(ctx, final, startedAt, logger)

	if status == models.CampaignFailed {
		return outcomeFailed, nil
	}
	return outcomeSent, nil
}

func (d *Dispatcher) notify(ctx context.Context, c *models.Campaign, startedAt time.Time, logger *slog.Logger) {
	if d.sink == nil {
		return
	}

	summary := notify.Summary{
		CampaignID: c.ID,
		Name:       c.Name,
		Status:     c.Status,
		Total:      c.Total,
		Sent:       c.Sent,
		Failed:     c.Failed,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if c.SentAt != nil {
		summary.FinishedAt = *c.SentAt
	}

	failed, err := d.ledger.ListByCampaign(ctx, c.ID, models.DeliveryFailed)
	if err != nil {
		logger.Warn("failed to list failed deliveries", "error", err)
	}
	for _, rec := range failed {
		summary.Failures = append(summary.Failures, notify.Failure{Email: rec.RecipientEmail, Error: rec.Error})
	}

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := d.sink.Notify(nctx, summary); err != nil {
		logger.Warn("completion notification failed", "error", err)
	}
}

// forceFailed marks the campaign failed after an unexpected error
func (d *Dispatcher) forceFailed(campaignID string, logger *slog.Logger) {
	ctx := context.WithoutCancel(d.ctx)
	if err := d.store.SetStatus(ctx, campaignID, models.CampaignFailed); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("failed to mark campaign failed", "error", err)
	}
}
