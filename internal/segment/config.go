package segment

import (
	"net/http"
	"time"

	"github.com/fyrsmithlabs/geosegment/internal/config"
)

// APIKeyHeader carries the optional backend API key.
const APIKeyHeader = "x-api-key"

// Config is the transport configuration for the segmentation backend. It is
// built once at startup and never changes afterwards.
type Config struct {
	BaseURL   string
	APIKey    config.Secret
	Timeout   time.Duration // 0 = no client-side timeout
	RateLimit float64       // requests per second, 0 = unlimited
}

// ConfigFrom extracts the transport settings from the application config.
func ConfigFrom(b config.BackendConfig) Config {
	base := b.BaseURL
	if base == "" {
		base = config.DefaultBaseURL
	}
	return Config{
		BaseURL:   base,
		APIKey:    b.APIKey,
		Timeout:   b.Timeout,
		RateLimit: b.RateLimit,
	}
}

// Headers returns the standard request headers: Accept: application/json,
// then extra, then the API key when one is configured. Content-Type is never
// set so multipart uploads keep the boundary chosen by the transport.
func (c Config) Headers(extra map[string]string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	for k, v := range extra {
		h.Set(k, v)
	}
	if c.APIKey.IsSet() {
		h.Set(APIKeyHeader, c.APIKey.Value())
	}
	return h
}
