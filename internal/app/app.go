package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foxzi/outreach/internal/api"
	"github.com/foxzi/outreach/internal/campaign"
	"github.com/foxzi/outreach/internal/config"
	"github.com/foxzi/outreach/internal/dashboard"
	"github.com/foxzi/outreach/internal/db"
	"github.com/foxzi/outreach/internal/engagement"
	"github.com/foxzi/outreach/internal/lead"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/queue"
	"github.com/foxzi/outreach/internal/ratelimit"
	"github.com/foxzi/outreach/internal/template"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *db.DB
	apiServer     *api.Server
	processor     *queue.Processor
	sender        queue.Sender
	limiter       *ratelimit.Limiter
	collector     *metrics.Collector
	metricsServer *metrics.Server
	redis         *redis.Client
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging, os.Stdout)

	database, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a := &App{config: cfg, db: database, logger: logger}
	if err := a.build(version); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(version string) error {
	cfg, logger := a.config, a.logger

	emails, err := queue.NewStorage(a.db.DB)
	if err != nil {
		return fmt.Errorf("failed to create email queue: %w", err)
	}
	leads, err := lead.NewStorage(a.db.DB)
	if err != nil {
		return fmt.Errorf("failed to create lead storage: %w", err)
	}
	templates, err := template.NewStorage(a.db.DB)
	if err != nil {
		return fmt.Errorf("failed to create template storage: %w", err)
	}
	campaigns, err := campaign.NewStorage(a.db.DB, emails)
	if err != nil {
		return fmt.Errorf("failed to create campaign storage: %w", err)
	}

	// Metrics
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		a.collector, err = metrics.NewCollector(a.db.DB, m, emails, campaigns, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	// Campaign locks
	var locker campaign.Locker
	switch cfg.Lock.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = campaign.NewRedisLocker(a.redis, campaign.RedisLockerConfig{
			Prefix: cfg.Lock.Redis.Prefix,
			TTL:    cfg.Lock.Redis.TTL,
			Wait:   cfg.Lock.Wait,
		}, logger.With("component", "lock"))
		logger.Info("distributed campaign locks enabled", "redis", cfg.Lock.Redis.Addr)
	default:
		locker = campaign.NewMemoryLocker()
	}

	machine := campaign.NewMachine(campaigns, leads, templates, locker, campaign.Config{
		LockWait:      cfg.Lock.Wait,
		RenderWorkers: cfg.Campaign.RenderWorkers,
	}, logger.With("component", "campaign"))

	// Dispatcher
	if cfg.Dispatch.Enabled {
		switch cfg.Dispatch.Sender {
		case "amqp":
			sender, err := queue.NewAMQPSender(queue.AMQPConfig{
				URL:        cfg.Dispatch.AMQP.URL,
				Exchange:   cfg.Dispatch.AMQP.Exchange,
				RoutingKey: cfg.Dispatch.AMQP.RoutingKey,
				Queue:      cfg.Dispatch.AMQP.Queue,
			})
			if err != nil {
				return err
			}
			a.sender = sender
			logger.Info("dispatching to broker", "exchange", cfg.Dispatch.AMQP.Exchange)
		default:
			a.sender = queue.NewLogSender(logger.With("component", "sender"))
		}

		a.processor = queue.NewProcessor(emails, a.sender, leads, queue.ProcessorConfig{
			Workers:         cfg.Dispatch.Workers,
			RetryInterval:   cfg.Dispatch.RetryInterval,
			MaxAttempts:     cfg.Dispatch.MaxAttempts,
			ProcessInterval: cfg.Dispatch.ProcessInterval,
			SendTimeout:     cfg.Dispatch.SendTimeout,
		}, logger.With("component", "dispatcher"))

		if rl := cfg.Dispatch.RateLimit; rl.Enabled {
			a.limiter, err = ratelimit.NewLimiter(a.db.DB, &ratelimit.Config{
				Global:             limitConfig(rl.Global),
				PerCampaign:        limitConfig(rl.PerCampaign),
				PerRecipientDomain: limitConfig(rl.PerRecipientDomain),
			})
			if err != nil {
				return fmt.Errorf("failed to create rate limiter: %w", err)
			}
			a.processor.SetThrottle(a.limiter)
			logger.Info("send limits enabled")
		}
	}

	a.apiServer = api.NewServer(api.Deps{
		DB:            a.db,
		Leads:         leads,
		Templates:     templates,
		Campaigns:     campaigns,
		Machine:       machine,
		Emails:        emails,
		Recorder:      engagement.NewRecorder(emails, leads, logger.With("component", "engagement")),
		Dashboard:     dashboard.NewAggregator(leads, emails, campaigns),
		ActivityLimit: cfg.Dashboard.ActivityLimit,
		Version:       version,
	}, &cfg.API, logger.With("component", "api"))

	return nil
}

// Handler returns the API handler, mainly for tests
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting outreach",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.db.Path(),
		"dispatch", a.processor != nil,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}
	if a.processor != nil {
		if err := a.processor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start dispatcher: %w", err)
		}
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop taking requests before draining the dispatcher
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.processor != nil {
		a.processor.Stop()
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.close()
	a.logger.Info("shutdown complete")
	return nil
}

// close releases connections and storage. Collector counters are persisted
// before the database closes.
func (a *App) close() {
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}
	// Persists counters
	if a.limiter != nil {
		if err := a.limiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}
	if c, ok := a.sender.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Error("sender close error", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
}

func limitConfig(l *config.LimitConfig) *ratelimit.LimitConfig {
	if l == nil {
		return nil
	}
	return &ratelimit.LimitConfig{
		MessagesPerHour: l.MessagesPerHour,
		MessagesPerDay:  l.MessagesPerDay,
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
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
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
