// Package segment is the client for the remote segmentation service and the
// backend abstraction the rest of geosegment talks to.
package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/geosegment/internal/logging"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

const (
	// FileField is the multipart field carrying the image.
	FileField = "file"

	// RequestIDHeader correlates a request with client logs.
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 1 << 20
	tracerName   = "github.com/fyrsmithlabs/geosegment/internal/segment"
)

// Client talks to the segmentation service over HTTP.
//
// Probes (CheckHealth, ModelInfo) never return errors; segmentation calls
// always do. Client is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
	tracer     trace.Tracer
	metrics    *Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for probe failures and request tracing.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.Named("segment")
		}
	}
}

// WithTracer sets the tracer for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client for the service at cfg.BaseURL.
func NewClient(cfg Config, opts ...Option) *Client {
	limit := rate.Inf
	burst := 0
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = 1
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the transport configuration the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// CheckHealth reports whether GET /health answered 2xx with status "ok".
// Every failure, including network errors, yields false.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "segment.CheckHealth")
	defer span.End()

	start := time.Now()
	healthy, err := c.checkHealth(ctx)
	c.metrics.observe(EndpointHealth, outcome(err), time.Since(start).Seconds())
	c.metrics.setHealthy(healthy)
	span.SetAttributes(attribute.Bool("backend.healthy", healthy))
	if err != nil {
		span.RecordError(err)
		c.logger.Warn(ctx, "health check failed", zap.Error(err))
	}
	return healthy
}

func (c *Client) checkHealth(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, EndpointHealth, nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return false, &SegmentationError{Endpoint: EndpointHealth, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, &InvalidResponseFormatError{Endpoint: EndpointHealth, Reason: err.Error()}
	}
	return status.Status == "ok", nil
}

// ModelInfo returns the decoded GET /info object, or nil when the request
// fails, the status is not 2xx or the body is not a JSON object.
func (c *Client) ModelInfo(ctx context.Context) ModelInfo {
	ctx, span := c.tracer.Start(ctx, "segment.ModelInfo")
	defer span.End()

	start := time.Now()
	info, err := c.modelInfo(ctx)
	c.metrics.observe(EndpointInfo, outcome(err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		c.logger.Warn(ctx, "failed to get model info", zap.Error(err))
		return nil
	}
	return info
}

func (c *Client) modelInfo(ctx context.Context) (ModelInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, EndpointInfo, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &SegmentationError{Endpoint: EndpointInfo, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var info ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &InvalidResponseFormatError{Endpoint: EndpointInfo, Reason: err.Error()}
	}
	if info == nil {
		return nil, &InvalidResponseFormatError{Endpoint: EndpointInfo, Reason: "body is not a JSON object"}
	}
	return info, nil
}

// SegmentMask uploads f to POST /segment and returns the PNG mask bytes.
func (c *Client) SegmentMask(ctx context.Context, f *upload.File) ([]byte, error) {
	ctx, span := c.startUpload(ctx, "segment.SegmentMask", f)
	defer span.End()

	start := time.Now()
	mask, err := c.segmentMask(ctx, f)
	c.finish(ctx, span, EndpointSegment, start, err)
	return mask, err
}

func (c *Client) segmentMask(ctx context.Context, f *upload.File) ([]byte, error) {
	resp, err := c.upload(ctx, c.url(EndpointSegment), EndpointSegment, f)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &SegmentationError{Endpoint: EndpointSegment, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "image/png") {
		return nil, &InvalidResponseFormatError{
			Endpoint: EndpointSegment,
			Reason:   fmt.Sprintf("expected image/png, got %q", ct),
		}
	}

	mask, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Endpoint: EndpointSegment, Err: err}
	}
	return mask, nil
}

// fullResponse is the /segment-full wire shape. Stats stays raw so that a
// present but non-array value is distinguishable from a missing one.
type fullResponse struct {
	MaskPNGBase64 string          `json:"mask_png_base64"`
	Stats         json.RawMessage `json:"stats"`
}

// SegmentFull uploads f to POST /segment-full and returns the mask as a
// data URI together with the per-class statistics in backend order.
func (c *Client) SegmentFull(ctx context.Context, f *upload.File) (*FullResult, error) {
	ctx, span := c.startUpload(ctx, "segment.SegmentFull", f)
	defer span.End()

	start := time.Now()
	res, err := c.segmentFull(ctx, f)
	c.finish(ctx, span, EndpointSegmentFull, start, err)
	if err == nil {
		span.SetAttributes(attribute.Int("segment.classes", len(res.Stats)))
	}
	return res, err
}

func (c *Client) segmentFull(ctx context.Context, f *upload.File) (*FullResult, error) {
	resp, err := c.upload(ctx, c.url(EndpointSegmentFull), EndpointSegmentFull, f)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &SegmentationError{Endpoint: EndpointSegmentFull, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var body fullResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &InvalidResponseFormatError{Endpoint: EndpointSegmentFull, Reason: err.Error()}
	}
	if body.MaskPNGBase64 == "" {
		return nil, &InvalidResponseFormatError{Endpoint: EndpointSegmentFull, Reason: "mask_png_base64 is missing"}
	}
	raw := bytes.TrimSpace(body.Stats)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, &InvalidResponseFormatError{Endpoint: EndpointSegmentFull, Reason: "stats is not an array"}
	}

	var stats []ClassStat
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, &InvalidResponseFormatError{Endpoint: EndpointSegmentFull, Reason: err.Error()}
	}
	if stats == nil {
		stats = []ClassStat{}
	}

	return &FullResult{
		SegmentedURL: DataURIPrefix + body.MaskPNGBase64,
		Stats:        stats,
	}, nil
}

func (c *Client) startUpload(ctx context.Context, name string, f *upload.File) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("upload.name", f.Name),
		attribute.Int64("upload.size", f.Size),
		attribute.String("upload.content_type", f.ContentType),
	)
	return ctx, span
}

func (c *Client) finish(ctx context.Context, span trace.Span, endpoint string, start time.Time, err error) {
	elapsed := time.Since(start)
	c.metrics.observe(endpoint, outcome(err), elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug(ctx, "segmentation request failed",
			zap.String("endpoint", endpoint),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	c.logger.Debug(ctx, "segmentation request completed",
		zap.String("endpoint", endpoint),
		zap.Duration("elapsed", elapsed))
}

// upload POSTs f as multipart form data to target.
func (c *Client) upload(ctx context.Context, target, endpoint string, f *upload.File) (*http.Response, error) {
	body, contentType, err := multipartBody(f)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload body: %w", err)
	}
	return c.send(ctx, http.MethodPost, target, endpoint, body, contentType)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	return c.send(ctx, method, c.url(endpoint), endpoint, body, contentType)
}

func (c *Client) send(ctx context.Context, method, target, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("rate limiter error: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}

	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header = c.cfg.Headers(map[string]string{RequestIDHeader: requestID})
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Trace(ctx, "backend request",
		zap.String("method", method),
		zap.String("url", target),
		logging.Headers("headers", req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	return resp, nil
}

func (c *Client) url(endpoint string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + endpoint
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// multipartBody encodes f under FileField. The returned content type carries
// the boundary.
func multipartBody(f *upload.File) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FileField, quoteEscaper.Replace(f.Name)))
	h.Set("Content-Type", ct)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// readErrorBody returns the response text, or a fixed placeholder when the
// body cannot be read.
func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return unknownErrorBody
	}
	return string(b)
}

func outcome(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *SegmentationError:
		return "http_error"
	case *InvalidResponseFormatError:
		return "format_error"
	default:
		return "network_error"
	}
}
