package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
	"github.com/fyrsmithlabs/geosegment/internal/config"
	"github.com/fyrsmithlabs/geosegment/internal/jobs"
	"github.com/fyrsmithlabs/geosegment/internal/logging"
	"github.com/fyrsmithlabs/geosegment/internal/notify"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/telemetry"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

// app bundles everything a command needs, built once from configuration.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	nc       *nats.Conn
	catalog  *classes.Catalog
	client   *segment.Client
	backend  segment.Backend
	filter   upload.Filter
	jobs     *jobs.Registry
	notifier *notify.Multi
}

// loadConfig resolves configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		var err error
		if cfg, err = config.LoadWithFile(configPath); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Load()
	}

	if baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if apiKey != "" {
		cfg.Backend.APIKey = config.Secret(apiKey)
	}
	if variant != "" {
		cfg.Backend.Variant = variant
	}
	if policy != "" {
		cfg.Upload.Policy = policy
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp wires logging, telemetry, the event bus and the configured backend.
// NATS is optional: a connection failure is logged and the app runs without
// job events.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.Degraded(); err != nil {
		logger.Warn(ctx, "telemetry running degraded", zap.Error(err))
	}

	catalog, err := classes.Load(cfg.Classes.Path)
	if err != nil {
		return nil, err
	}
	pol, err := upload.ParsePolicy(cfg.Upload.Policy)
	if err != nil {
		return nil, err
	}

	client := segment.NewClient(segment.ConfigFrom(cfg.Backend),
		segment.WithHTTPClient(segment.NewHTTPClient(ctx, cfg.Backend)),
		segment.WithLogger(logger),
		segment.WithTracer(tel.Tracer("github.com/fyrsmithlabs/geosegment/segment")),
		segment.WithMetrics(segment.NewMetrics()),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		catalog:  catalog,
		client:   client,
		filter:   upload.NewFilter(pol, cfg.Upload.MaxSizeMB),
		notifier: notify.NewMulti(notify.NewLogNotifier(logger)),
	}

	switch cfg.Backend.Variant {
	case config.VariantRelay:
		a.backend = segment.NewRelayBackend(client, cfg.Backend.RelayURL, catalog)
	default:
		a.backend = segment.NewRESTBackend(client)
	}

	nc, err := jobs.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Warn(ctx, "running without job events", zap.Error(err))
	}
	a.nc = nc
	a.jobs = jobs.NewRegistry(nc)
	if nc != nil {
		a.notifier.Add(notify.NewNATSNotifier(nc, logger))
	}

	logger.Debug(ctx, "geoseg initialized",
		zap.String("backend", a.backend.Name()),
		zap.String("base_url", cfg.Backend.BaseURL),
		logging.Secret("api_key", cfg.Backend.APIKey),
		zap.String("policy", string(pol)))
	return a, nil
}

// Close flushes telemetry and drains the event bus.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn(ctx, "failed to drain NATS connection", zap.Error(err))
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// openImage reads path and applies the upload policy.
func (a *app) openImage(path string) (*upload.File, error) {
	f, err := upload.Open(path)
	if err != nil {
		return nil, err
	}
	if err := a.filter.Accept(f); err != nil {
		return nil, fmt.Errorf("%s: %w", a.filter.Policy.Prompt(), err)
	}
	return f, nil
}
