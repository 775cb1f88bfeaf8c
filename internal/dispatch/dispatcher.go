// Package dispatch runs campaign sends. Each run owns one goroutine that walks the
// recipient list sequentially, consulting the delivery ledger so that a resumed or
// repeated run never sends twice to a recipient with a terminal record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/foxzi/mailcast/internal/ledger"
	"github.com/foxzi/mailcast/internal/metrics"
	"github.com/foxzi/mailcast/internal/models"
	"github.com/foxzi/mailcast/internal/notify"
	"github.com/foxzi/mailcast/internal/provider"
	"github.com/foxzi/mailcast/internal/store"
)

// ErrAlreadyRunning is returned when a campaign already has an active run in this process
var ErrAlreadyRunning = errors.New("campaign is already running")

// Trigger names what launched a run
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerRecovered Trigger = "recovered"
)

// ProviderFactory builds the transport for a run from the stored configuration
type ProviderFactory func(cfg *models.ProviderConfig) (provider.Provider, error)

// Dispatcher launches and tracks campaign runs
type Dispatcher struct {
	store       *store.Storage
	ledger      *ledger.Ledger
	sink        notify.Sink
	newProvider ProviderFactory
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*run
}

// run is the in-process handle of one campaign run
type run struct {
	campaignID string
	baseURL    string
	trigger    Trigger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (r *run) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// New creates a dispatcher. sink may be nil.
func New(st *store.Storage, led *ledger.Ledger, sink notify.Sink, newProvider ProviderFactory, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		store:       st,
		ledger:      led,
		sink:        sink,
		newProvider: newProvider,
		logger:      logger.With("component", "dispatcher"),
		ctx:         ctx,
		cancel:      cancel,
		runs:        make(map[string]*run),
	}
}

// Start launches a run for the campaign and returns without waiting for it.
// Eligibility is decided by the run itself; an ineligible campaign makes it exit silently.
func (d *Dispatcher) Start(ctx context.Context, campaignID, baseURL string) error {
	return d.launch(ctx, campaignID, baseURL, TriggerManual)
}

// StartScheduled launches a run on behalf of the scheduler
func (d *Dispatcher) StartScheduled(ctx context.Context, campaignID, baseURL string) error {
	return d.launch(ctx, campaignID, baseURL, TriggerScheduled)
}

func (d *Dispatcher) launch(ctx context.Context, campaignID, baseURL string, trigger Trigger) error {
	exists, err := d.store.CampaignExists(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to look up campaign: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}

	for {
		d.mu.Lock()
		if d.ctx.Err() != nil {
			d.mu.Unlock()
			return errors.New("dispatcher is shutting down")
		}
		prev, ok := d.runs[campaignID]
		if !ok {
			r := &run{
				campaignID: campaignID,
				baseURL:    baseURL,
				trigger:    trigger,
				stop:       make(chan struct{}),
				done:       make(chan struct{}),
			}
			d.runs[campaignID] = r
			d.wg.Add(1)
			d.mu.Unlock()

			metrics.IncRunStarted(string(trigger))
			go d.execute(r)
			return nil
		}
		d.mu.Unlock()

		if !prev.stopping() {
			return ErrAlreadyRunning
		}

		// a paused run may still be finishing its in-flight send
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pause stops the campaign at the next recipient boundary and marks it paused.
// A scheduled campaign that has not started yet is paused as well.
func (d *Dispatcher) Pause(ctx context.Context, campaignID string) error {
	_, err := d.store.Transition(ctx, campaignID,
		[]models.CampaignStatus{models.CampaignSending, models.CampaignScheduled},
		models.CampaignPaused)
	if err != nil {
		return err
	}

	d.mu.Lock()
	r, ok := d.runs[campaignID]
	d.mu.Unlock()
	if ok {
		r.requestStop()
	}

	d.logger.Info("campaign paused", "campaign_id", campaignID)
	return nil
}

// Resume restarts a paused campaign. Recipients with terminal records are skipped.
func (d *Dispatcher) Resume(ctx context.Context, campaignID, baseURL string) error {
	c, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != models.CampaignPaused {
		return fmt.Errorf("%w: campaign is %s, not paused", store.ErrIneligible, c.Status)
	}
	return d.launch(ctx, campaignID, baseURL, TriggerManual)
}

// Running reports whether the campaign has an active run in this process
func (d *Dispatcher) Running(campaignID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.runs[campaignID]
	return ok
}

// RecoverInterrupted handles campaigns left in sending by a previous process.
// They are moved to paused and, when restart is set, launched again.
func (d *Dispatcher) RecoverInterrupted(ctx context.Context, baseURL string, restart bool) (int, error) {
	sending, err := d.store.ListCampaigns(ctx, models.CampaignSending)
	if err != nil {
		return 0, fmt.Errorf("failed to list sending campaigns: %w", err)
	}

	recovered := 0
	for _, c := range sending {
		if d.Running(c.ID) {
			continue
		}
		if _, err := d.store.Transition(ctx, c.ID, []models.CampaignStatus{models.CampaignSending}, models.CampaignPaused); err != nil {
			d.logger.Warn("failed to pause interrupted campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		recovered++
		d.logger.Info("interrupted campaign paused", "campaign_id", c.ID, "sent", c.Sent, "failed", c.Failed, "total", c.Total)

		if restart {
			if err := d.launch(ctx, c.ID, baseURL, TriggerRecovered); err != nil {
				d.logger.Error("failed to restart interrupted campaign", "campaign_id", c.ID, "error", err)
			}
		}
	}
	return recovered, nil
}

// Wait blocks until every launched run has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops all runs at their next recipient boundary and waits for them.
// Interrupted campaigns are left paused.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.cancel()
	for _, r := range d.runs {
		r.requestStop()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) unregister(r *run) {
	d.mu.Lock()
	if d.runs[r.campaignID] == r {
		delete(d.runs, r.campaignID)
	}
	d.mu.Unlock()
	close(r.done)
}
