// Package config provides configuration loading for geosegment.
//
// Configuration is resolved once at startup from defaults, an optional YAML
// file and environment variables, and is then passed by value to the
// components that need it. Nothing reads the environment after startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend variants.
const (
	VariantREST  = "rest"
	VariantRelay = "relay"
)

// Upload policies.
const (
	PolicyImage = "image"
	PolicyTIFF  = "tiff"
)

// DefaultBaseURL is used when no backend base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// Config holds the complete geosegment configuration.
type Config struct {
	Backend       BackendConfig       `koanf:"backend"`
	Upload        UploadConfig        `koanf:"upload"`
	Classes       ClassesConfig       `koanf:"classes"`
	Relay         RelayConfig         `koanf:"relay"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	NATS          NATSConfig          `koanf:"nats"`
}

// BackendConfig describes how to reach the segmentation service.
type BackendConfig struct {
	Variant  string `koanf:"variant"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	RelayURL string `koanf:"relay_url"`

	// Timeout bounds a single request. Zero leaves requests unbounded.
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"` // requests per second, 0 = unlimited

	OAuthTokenURL     string `koanf:"oauth_token_url"`
	OAuthClientID     string `koanf:"oauth_client_id"`
	OAuthClientSecret Secret `koanf:"oauth_client_secret"`
	OAuthScopes       string `koanf:"oauth_scopes"` // space separated
}

// OAuthEnabled reports whether client-credentials auth is configured.
func (b BackendConfig) OAuthEnabled() bool {
	return b.OAuthTokenURL != "" && b.OAuthClientID != ""
}

// UploadConfig holds the upload acceptance policy.
type UploadConfig struct {
	Policy    string `koanf:"policy"`
	MaxSizeMB int    `koanf:"max_size_mb"` // 0 = unlimited
}

// ClassesConfig points at an optional TOML class catalog.
type ClassesConfig struct {
	Path string `koanf:"path"`
}

// RelayConfig holds configuration for the segment-relay server.
type RelayConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	UpstreamURL     string        `koanf:"upstream_url"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"`
	Insecure        bool   `koanf:"insecure"`
}

// NATSConfig enables publishing job and notification events.
type NATSConfig struct {
	URL string `koanf:"url"`
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - GEOSEG_BACKEND_BASE_URL (or VITE_API_BASE_URL): backend base URL (default: http://localhost:8000)
//   - GEOSEG_BACKEND_API_KEY (or VITE_API_KEY): API key sent as x-api-key (default: none)
//   - GEOSEG_BACKEND_VARIANT: rest or relay (default: rest)
//   - GEOSEG_BACKEND_RELAY_URL: relay function URL (required for relay)
//   - GEOSEG_BACKEND_TIMEOUT: per-request timeout (default: none)
//   - GEOSEG_BACKEND_RATE_LIMIT: requests per second (default: unlimited)
//   - GEOSEG_UPLOAD_POLICY: image or tiff (default: tiff)
//   - GEOSEG_RELAY_HTTP_PORT: relay server port (default: 8787)
//   - GEOSEG_NATS_URL: NATS server for job events (default: disabled)
//
// Example:
//
//	cfg := config.Load()
//	client := segment.NewClient(segment.ConfigFrom(cfg.Backend))
func Load() *Config {
	cfg := &Config{
		Backend: BackendConfig{
			Variant:           getEnvString("GEOSEG_BACKEND_VARIANT", VariantREST),
			BaseURL:           getEnvString("GEOSEG_BACKEND_BASE_URL", getEnvString("VITE_API_BASE_URL", DefaultBaseURL)),
			APIKey:            Secret(getEnvString("GEOSEG_BACKEND_API_KEY", os.Getenv("VITE_API_KEY"))),
			RelayURL:          getEnvString("GEOSEG_BACKEND_RELAY_URL", ""),
			Timeout:           getEnvDuration("GEOSEG_BACKEND_TIMEOUT", 0),
			RateLimit:         getEnvFloat("GEOSEG_BACKEND_RATE_LIMIT", 0),
			OAuthTokenURL:     getEnvString("GEOSEG_BACKEND_OAUTH_TOKEN_URL", ""),
			OAuthClientID:     getEnvString("GEOSEG_BACKEND_OAUTH_CLIENT_ID", ""),
			OAuthClientSecret: Secret(getEnvString("GEOSEG_BACKEND_OAUTH_CLIENT_SECRET", "")),
			OAuthScopes:       getEnvString("GEOSEG_BACKEND_OAUTH_SCOPES", ""),
		},
		Upload: UploadConfig{
			Policy:    getEnvString("GEOSEG_UPLOAD_POLICY", PolicyTIFF),
			MaxSizeMB: getEnvInt("GEOSEG_UPLOAD_MAX_SIZE_MB", 0),
		},
		Classes: ClassesConfig{
			Path: getEnvString("GEOSEG_CLASSES_PATH", ""),
		},
		Relay: RelayConfig{
			Port:            getEnvInt("GEOSEG_RELAY_HTTP_PORT", 8787),
			ShutdownTimeout: getEnvDuration("GEOSEG_RELAY_SHUTDOWN_TIMEOUT", 10*time.Second),
			UpstreamURL:     getEnvString("GEOSEG_RELAY_UPSTREAM_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("GEOSEG_LOGGING_LEVEL", "info"),
			Format: getEnvString("GEOSEG_LOGGING_FORMAT", "console"),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("GEOSEG_OBSERVABILITY_ENABLE_TELEMETRY", false),
			ServiceName:     getEnvString("GEOSEG_OBSERVABILITY_SERVICE_NAME", "geosegment"),
			Endpoint:        getEnvString("GEOSEG_OBSERVABILITY_ENDPOINT", "localhost:4317"),
			Protocol:        getEnvString("GEOSEG_OBSERVABILITY_PROTOCOL", "grpc"),
			Insecure:        getEnvBool("GEOSEG_OBSERVABILITY_INSECURE", false),
		},
		NATS: NATSConfig{
			URL: getEnvString("GEOSEG_NATS_URL", ""),
		},
	}
	return cfg
}

// Validate validates the configuration.
//
// The backend base URL is deliberately not parsed here: a malformed URL
// surfaces as a network failure on first use.
func (c *Config) Validate() error {
	switch c.Backend.Variant {
	case VariantREST:
	case VariantRelay:
		if c.Backend.RelayURL == "" {
			return errors.New("relay_url required when backend variant is relay")
		}
	default:
		return fmt.Errorf("invalid backend variant: %q (must be rest or relay)", c.Backend.Variant)
	}

	if c.Backend.Timeout < 0 {
		return errors.New("backend timeout cannot be negative")
	}
	if c.Backend.RateLimit < 0 {
		return errors.New("backend rate limit cannot be negative")
	}
	if c.Backend.OAuthTokenURL != "" && c.Backend.OAuthClientID == "" {
		return errors.New("oauth_client_id required when oauth_token_url is set")
	}

	if c.Upload.Policy != PolicyImage && c.Upload.Policy != PolicyTIFF {
		return fmt.Errorf("invalid upload policy: %q (must be image or tiff)", c.Upload.Policy)
	}
	if c.Upload.MaxSizeMB < 0 {
		return errors.New("upload max size cannot be negative")
	}

	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay port: %d (must be 1-65535)", c.Relay.Port)
	}
	if c.Relay.ShutdownTimeout <= 0 {
		return errors.New("relay shutdown timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
