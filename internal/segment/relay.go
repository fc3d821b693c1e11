package segment

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

// RelayPath is the path the relay function is served under.
const RelayPath = "/functions/v1/segment-image"

// RelayResponse is the relay function's wire shape. It is unrelated to the
// /segment-full shape and is mapped separately.
type RelayResponse struct {
	SegmentedImage   string    `json:"segmented_image"`
	Accuracy         *float64  `json:"accuracy"`
	F1Score          *float64  `json:"f1_score"`
	IoU              *float64  `json:"iou"`
	ClassPercentages []float64 `json:"class_percentages"`
}

// RelayError is the relay's failure body.
type RelayError struct {
	Error string `json:"error"`
}

// Result maps the relay shape onto a Result. Percentages are assigned to
// catalog classes by position.
func (r *RelayResponse) Result(catalog *classes.Catalog) *Result {
	stats := make([]ClassStat, 0, len(r.ClassPercentages))
	for i, pct := range r.ClassPercentages {
		id := i + 1
		if cls, ok := catalog.At(i); ok {
			id = cls.ID
		}
		stats = append(stats, ClassStat{ClassID: id, ClassName: catalog.Name(id), Percent: pct})
	}

	res := &Result{MaskURL: relayMaskURL(r.SegmentedImage), Stats: stats}
	if r.Accuracy != nil {
		res.Metrics = &Accuracy{Accuracy: *r.Accuracy, F1Score: r.F1Score, IoU: r.IoU}
	}
	return res
}

// RelayPercentages lays stats out in catalog order for the relay shape.
// Catalog classes missing from stats get 0.
func RelayPercentages(stats []ClassStat, catalog *classes.Catalog) []float64 {
	byID := make(map[int]float64, len(stats))
	for _, s := range stats {
		byID[s.ClassID] += s.Percent
	}
	out := make([]float64, 0, catalog.Len())
	for _, id := range catalog.IDs() {
		out = append(out, byID[id])
	}
	return out
}

func relayMaskURL(s string) string {
	if s == "" || strings.HasPrefix(s, "data:") {
		return s
	}
	return DataURIPrefix + s
}

// RelayBackend serves segmentation through the relay function contract.
// The relay has no health endpoint, so Probe always reports HealthUnknown.
type RelayBackend struct {
	client  *Client
	url     string
	catalog *classes.Catalog
}

// NewRelayBackend creates a relay backend posting to relayURL. An empty
// relayURL resolves to RelayPath on the client's base URL.
func NewRelayBackend(c *Client, relayURL string, catalog *classes.Catalog) *RelayBackend {
	if relayURL == "" {
		relayURL = strings.TrimRight(c.cfg.BaseURL, "/") + RelayPath
	}
	if catalog == nil {
		catalog = classes.Default()
	}
	return &RelayBackend{client: c, url: relayURL, catalog: catalog}
}

func (b *RelayBackend) Name() string { return "relay" }

func (b *RelayBackend) Probe(context.Context) HealthState {
	return HealthUnknown
}

func (b *RelayBackend) Segment(ctx context.Context, f *upload.File) (*Result, error) {
	ctx, span := b.client.startUpload(ctx, "segment.Relay", f)
	defer span.End()

	start := time.Now()
	res, err := b.segment(ctx, f)
	b.client.finish(ctx, span, EndpointRelay, start, err)
	return res, err
}

func (b *RelayBackend) segment(ctx context.Context, f *upload.File) (*Result, error) {
	resp, err := b.client.upload(ctx, b.url, EndpointRelay, f)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &SegmentationError{Endpoint: EndpointRelay, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var body RelayResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &InvalidResponseFormatError{Endpoint: EndpointRelay, Reason: err.Error()}
	}
	if body.ClassPercentages == nil {
		return nil, &InvalidResponseFormatError{Endpoint: EndpointRelay, Reason: "class_percentages is missing"}
	}
	return body.Result(b.catalog), nil
}
