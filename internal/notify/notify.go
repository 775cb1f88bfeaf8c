// Package notify delivers campaign completion summaries. Delivery is best effort:
// errors are returned for logging and never change campaign state.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxzi/mailcast/internal/metrics"
	"github.com/foxzi/mailcast/internal/models"
)

// Failure is one recipient that could not be reached
type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Summary describes a finished campaign run
type Summary struct {
	CampaignID string                `json:"campaign_id"`
	Name       string                `json:"name"`
	Status     models.CampaignStatus `json:"status"`
	Total      int                   `json:"total"`
	Sent       int                   `json:"sent"`
	Failed     int                   `json:"failed"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Failures   []Failure             `json:"failures,omitempty"`
}

// Sink receives completion summaries
type Sink interface {
	Name() string
	Notify(ctx context.Context, s Summary) error
}

// Multi fans a summary out to every sink and joins their errors
type Multi []Sink

// Name implements Sink
func (m Multi) Name() string {
	return "multi"
}

// Notify implements Sink
func (m Multi) Notify(ctx context.Context, s Summary) error {
	var errs []error
	for _, sink := range m {
		err := sink.Notify(ctx, s)
		metrics.IncNotification(sink.Name(), err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds a connection
func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if c, ok := sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// LogSink writes summaries to the structured log
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notify")}
}

// Name implements Sink
func (l *LogSink) Name() string {
	return "log"
}

// Notify implements Sink
func (l *LogSink) Notify(ctx context.Context, s Summary) error {
	l.logger.InfoContext(ctx, "campaign finished",
		"campaign_id", s.CampaignID,
		"name", s.Name,
		"status", s.Status,
		"total", s.Total,
		"sent", s.Sent,
		"failed", s.Failed,
		"duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String(),
	)
	return nil
}
