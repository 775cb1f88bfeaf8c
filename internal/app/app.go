package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/mailcast/internal/api"
	"github.com/foxzi/mailcast/internal/config"
	"github.com/foxzi/mailcast/internal/dispatch"
	"github.com/foxzi/mailcast/internal/dkim"
	"github.com/foxzi/mailcast/internal/ledger"
	"github.com/foxzi/mailcast/internal/lock"
	"github.com/foxzi/mailcast/internal/metrics"
	"github.com/foxzi/mailcast/internal/models"
	"github.com/foxzi/mailcast/internal/notify"
	"github.com/foxzi/mailcast/internal/provider"
	"github.com/foxzi/mailcast/internal/scheduler"
	"github.com/foxzi/mailcast/internal/store"
)

const shutdownTimeout = 30 * time.Second

// App is the main application
type App struct {
	config        *config.Config
	store         *store.Storage
	ledger        *ledger.Ledger
	sinks         notify.Multi
	dispatcher    *dispatch.Dispatcher
	scheduler     *scheduler.Scheduler
	apiServer     *api.Server
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	led, err := ledger.New(st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create delivery ledger: %w", err)
	}

	var signer *dkim.Signer
	if cfg.DKIM.Enabled {
		signer, err = dkim.Load(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", signer.Domain(), "selector", signer.Selector())
	}

	a := &App{
		config: cfg,
		store:  st,
		ledger: led,
		logger: logger,
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)
		a.metricsServer = metrics.NewServer(a.metrics, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
		a.collector = metrics.NewCollector(a.metrics, st, cfg.Storage.Path, cfg.Metrics.FlushInterval, logger)
	}

	a.sinks = buildSinks(cfg.Notify, logger)
	newProvider := ProviderFactory(cfg, signer, logger)

	a.dispatcher = dispatch.New(st, led, a.sinks, newProvider, logger)

	if cfg.Scheduler.IsEnabled() {
		a.scheduler = scheduler.New(st, a.dispatcher, scheduler.Config{
			Interval: cfg.Scheduler.Interval,
			LockFile: cfg.Scheduler.LockFile,
			BaseURL:  cfg.Server.BaseURL,
		}, logger)
	}

	a.apiServer = api.NewServer(api.ServerOptions{
		Store:       st,
		Ledger:      led,
		Campaigns:   a.dispatcher,
		NewProvider: newProvider,
		Config:      &cfg.API,
		BaseURL:     cfg.Server.BaseURL,
		Version:     version,
		Logger:      logger,
	})

	return a, nil
}

// ProviderFactory builds providers from the stored configuration with the
// process-wide transport options
func ProviderFactory(cfg *config.Config, signer *dkim.Signer, logger *slog.Logger) dispatch.ProviderFactory {
	return func(pc *models.ProviderConfig) (provider.Provider, error) {
		return provider.New(pc, provider.Options{
			Timeout:  cfg.Provider.Timeout,
			Hostname: cfg.Server.Hostname,
			Signer:   signer,
			Logger:   logger,
		})
	}
}

// buildSinks returns the log sink plus every configured external sink
func buildSinks(cfg config.NotifyConfig, logger *slog.Logger) notify.Multi {
	sinks := notify.Multi{notify.NewLogSink(logger)}

	if cfg.Telegram.Enabled() {
		sinks = append(sinks, notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout))
		logger.Info("telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	}
	if cfg.Kafka.Enabled() {
		sinks = append(sinks, notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		logger.Info("kafka notifications enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	if cfg.AMQP.Enabled() {
		sinks = append(sinks, notify.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Queue))
		logger.Info("amqp notifications enabled", "queue", cfg.AMQP.Queue)
	}

	return sinks
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailcast",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
		"scheduler", a.scheduler != nil,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recovered, err := a.dispatcher.RecoverInterrupted(ctx, a.config.Server.BaseURL, a.config.Scheduler.ResumeInterrupted)
	if err != nil {
		a.logger.Error("failed to recover interrupted campaigns", "error", err)
	} else if recovered > 0 {
		a.logger.Warn("recovered interrupted campaigns",
			"count", recovered,
			"restarted", a.config.Scheduler.ResumeInterrupted,
		)
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			if !errors.Is(err, lock.ErrLocked) {
				a.close()
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			a.scheduler = nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if a.metricsServer != nil {
		g.Go(func() error {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return a.collector.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		a.shutdown()
		return nil
	})

	err = g.Wait()
	if err != nil {
		a.logger.Error("server error", "error", err)
	}
	a.close()
	return err
}

// shutdown stops accepting work and waits for campaign runs to reach a recipient boundary
func (a *App) shutdown() {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if err := a.dispatcher.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("campaign runs did not stop in time", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
}

// close releases sinks and storage once every component has stopped
func (a *App) close() {
	if err := a.sinks.Close(); err != nil {
		a.logger.Error("notification sink close error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
	a.logger.Info("shutdown complete")
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
