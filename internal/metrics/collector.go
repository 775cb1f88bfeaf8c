package metrics

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/foxzi/mailcast/internal/models"
)

// CampaignCounter reports how many campaigns are stored per status
type CampaignCounter interface {
	CountCampaigns(ctx context.Context) (map[models.CampaignStatus]int, error)
}

// Collector refreshes gauges derived from stored state
type Collector struct {
	metrics     *Metrics
	source      CampaignCounter
	storagePath string
	interval    time.Duration
	logger      *slog.Logger
}

// NewCollector creates a gauge collector
func NewCollector(m *Metrics, source CampaignCounter, storagePath string, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:     m,
		source:      source,
		storagePath: storagePath,
		interval:    interval,
		logger:      logger.With("component", "metrics_collector"),
	}
}

// Run collects until ctx is cancelled
func (c *Collector) Run(ctx context.Context) error {
	c.Collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect updates the gauges once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.metrics.startTime).Seconds())

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.source == nil {
		return
	}
	counts, err := c.source.CountCampaigns(ctx)
	if err != nil {
		c.logger.Warn("failed to count campaigns", "error", err)
		return
	}
	for _, status := range models.AllCampaignStatuses {
		c.metrics.Campaigns.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
