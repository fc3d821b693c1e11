// Package relay serves the segment-image relay function: a mock
// segmentation endpoint returning accuracy metrics and class percentages,
// optionally backed by the real segmentation service.
package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
	"github.com/fyrsmithlabs/geosegment/internal/logging"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

// CORS headers sent on every response.
const (
	AllowOrigin  = "*"
	AllowHeaders = "authorization, x-client-info, apikey, content-type"
)

// ErrNoFile is the error body returned when the form carries no file.
const ErrNoFile = "no file was uploaded"

// maxUpload bounds the multipart body.
const maxUpload = 512 << 20

// Config holds relay server configuration.
type Config struct {
	Host string
	Port int
}

// Server serves the relay function.
type Server struct {
	echo     *echo.Echo
	logger   *logging.Logger
	config   *Config
	catalog  *classes.Catalog
	upstream *segment.Client
	metrics  *HTTPMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog sets the class catalog percentages are ordered by.
func WithCatalog(c *classes.Catalog) Option {
	return func(s *Server) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithUpstream forwards uploads to the segmentation service instead of
// answering with the canned mask. Accuracy metrics stay mocked.
func WithUpstream(c *segment.Client) Option {
	return func(s *Server) { s.upstream = c }
}

// WithMeter records request metrics on meter.
func WithMeter(meter metric.Meter) Option {
	return func(s *Server) { s.metrics = NewHTTPMetrics(meter, s.logger) }
}

// NewServer creates a relay server.
func NewServer(logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8787,
		}
	}

	s := &Server{
		logger:  logger.Named("relay"),
		config:  cfg,
		catalog: classes.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(nil, s.logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(s.cors)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", maxUpload>>20)))
	e.Use(s.metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s.echo = e
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/segment-image", s.handleSegment)
	s.echo.POST(segment.RelayPath, s.handleSegment)
}

// Handler exposes the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// cors answers every preflight and stamps CORS headers on all responses.
func (s *Server) cors(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderAccessControlAllowOrigin, AllowOrigin)
		h.Set(echo.HeaderAccessControlAllowHeaders, AllowHeaders)
		if c.Request().Method == http.MethodOptions {
			return c.NoContent(http.StatusOK)
		}
		return next(c)
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSegment(c echo.Context) error {
	ctx := logging.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))

	fh, err := c.FormFile(segment.FileField)
	if err != nil {
		s.logger.Warn(ctx, "segmentation request without file", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, segment.RelayError{Error: ErrNoFile})
	}

	src, err := fh.Open()
	if err != nil {
		return s.fail(ctx, c, fmt.Errorf("opening upload: %w", err))
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return s.fail(ctx, c, fmt.Errorf("reading upload: %w", err))
	}
	file := upload.New(fh.Filename, data)
	s.metrics.RecordUpload(c, file.Size)

	s.logger.Info(ctx, "segmentation request received",
		zap.String("file", file.Name),
		zap.Int64("size", file.Size),
		zap.String("content_type", file.ContentType))

	result, err := MockResult(s.catalog)
	if err != nil {
		return s.fail(ctx, c, err)
	}

	if s.upstream != nil {
		full, err := s.upstream.SegmentFull(ctx, file)
		if err != nil {
			return s.fail(ctx, c, err)
		}
		result.SegmentedImage = strings.TrimPrefix(full.SegmentedURL, segment.DataURIPrefix)
		result.ClassPercentages = segment.RelayPercentages(full.Stats, s.catalog)
	}

	s.logger.Info(ctx, "segmentation completed", zap.Bool("upstream", s.upstream != nil))
	return c.JSON(http.StatusOK, result)
}

func (s *Server) fail(ctx context.Context, c echo.Context, err error) error {
	s.logger.Error(ctx, "segmentation failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, segment.RelayError{Error: err.Error()})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting relay server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down relay server")
	return s.echo.Shutdown(ctx)
}
