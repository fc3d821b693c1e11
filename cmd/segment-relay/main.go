// Segment-relay serves the segment-image relay function.
//
// The relay accepts a multipart upload in the "file" field and answers with
// a segmented mask, accuracy metrics and class percentages. By default the
// answer is a canned mock; with an upstream URL configured the mask and
// percentages come from the real segmentation service.
//
// Configuration is loaded from environment variables. See internal/config
// for details.
//
// Usage:
//
//	# Start with defaults (port 8787)
//	segment-relay
//
//	# Forward to a real backend
//	GEOSEG_RELAY_UPSTREAM_URL=http://gpu-01:8000 segment-relay
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
	"github.com/fyrsmithlabs/geosegment/internal/config"
	"github.com/fyrsmithlabs/geosegment/internal/logging"
	"github.com/fyrsmithlabs/geosegment/internal/relay"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var host = flag.String("host", "0.0.0.0", "interface to listen on")

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  segment-relay           Start the relay server\n")
			fmt.Fprintf(os.Stderr, "  segment-relay version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func printVersion() {
	fmt.Printf("segment-relay by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the relay and blocks until ctx is cancelled, then shuts the
// server down within the configured timeout.
func run(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.Degraded(); err != nil {
		logger.Warn(ctx, "telemetry running degraded", zap.Error(err))
	}

	catalog, err := classes.Load(cfg.Classes.Path)
	if err != nil {
		return err
	}

	opts := []relay.Option{
		relay.WithCatalog(catalog),
		relay.WithMeter(tel.Meter("github.com/fyrsmithlabs/geosegment/relay")),
	}
	if cfg.Relay.UpstreamURL != "" {
		backend := cfg.Backend
		backend.BaseURL = cfg.Relay.UpstreamURL
		upstream := segment.NewClient(segment.ConfigFrom(backend),
			segment.WithHTTPClient(segment.NewHTTPClient(ctx, backend)),
			segment.WithLogger(logger),
			segment.WithTracer(tel.Tracer("github.com/fyrsmithlabs/geosegment/segment")),
			segment.WithMetrics(segment.NewMetrics()),
		)
		opts = append(opts, relay.WithUpstream(upstream))
	}

	srv, err := relay.NewServer(logger, &relay.Config{Host: *host, Port: cfg.Relay.Port}, opts...)
	if err != nil {
		return err
	}

	logger.Info(ctx, "starting segment-relay",
		zap.Int("port", cfg.Relay.Port),
		zap.String("upstream", cfg.Relay.UpstreamURL),
		zap.Duration("shutdown_timeout", cfg.Relay.ShutdownTimeout))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}
	logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
