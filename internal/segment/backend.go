package segment

import (
	"context"

	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

// HealthState is the outcome of a backend probe. Unknown is permissive:
// segmentation may still be attempted.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthUnhealthy
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Backend is a segmentation service. Exactly one implementation is active
// per process; their wire contracts are never mixed.
type Backend interface {
	// Name identifies the backend variant in logs and job events.
	Name() string

	// Probe reports the backend's liveness. It never fails.
	Probe(ctx context.Context) HealthState

	// Segment uploads f and returns the mapped result.
	Segment(ctx context.Context, f *upload.File) (*Result, error)
}

// RESTBackend serves segmentation through the /segment-full contract.
type RESTBackend struct {
	client *Client
}

// NewRESTBackend wraps c as a Backend.
func NewRESTBackend(c *Client) *RESTBackend {
	return &RESTBackend{client: c}
}

func (b *RESTBackend) Name() string { return "rest" }

// Client exposes the underlying client for the mask-only and info calls.
func (b *RESTBackend) Client() *Client { return b.client }

func (b *RESTBackend) Probe(ctx context.Context) HealthState {
	if b.client.CheckHealth(ctx) {
		return HealthHealthy
	}
	return HealthUnhealthy
}

func (b *RESTBackend) Segment(ctx context.Context, f *upload.File) (*Result, error) {
	full, err := b.client.SegmentFull(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Result{MaskURL: full.SegmentedURL, Stats: full.Stats}, nil
}

var (
	_ Backend = (*RESTBackend)(nil)
	_ Backend = (*RelayBackend)(nil)
)
