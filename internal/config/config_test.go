package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearBackendEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEOSEG_BACKEND_BASE_URL", "GEOSEG_BACKEND_API_KEY", "GEOSEG_BACKEND_VARIANT",
		"GEOSEG_BACKEND_RELAY_URL", "GEOSEG_BACKEND_TIMEOUT", "GEOSEG_UPLOAD_POLICY",
		"VITE_API_BASE_URL", "VITE_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearBackendEnv(t)

	cfg := Load()

	assert.Equal(t, VariantREST, cfg.Backend.Variant)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.False(t, cfg.Backend.APIKey.IsSet())
	assert.Zero(t, cfg.Backend.Timeout)
	assert.Equal(t, PolicyTIFF, cfg.Upload.Policy)
	assert.Equal(t, 8787, cfg.Relay.Port)
	assert.Equal(t, 10*time.Second, cfg.Relay.ShutdownTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_LegacyFrontendVariables(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("VITE_API_BASE_URL", "https://seg.example.com")
	t.Setenv("VITE_API_KEY", "k-123")

	cfg := Load()

	assert.Equal(t, "https://seg.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "k-123", cfg.Backend.APIKey.Value())
}

func TestLoad_PrefixedVariablesWin(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("VITE_API_BASE_URL", "https://legacy.example.com")
	t.Setenv("GEOSEG_BACKEND_BASE_URL", "https://new.example.com")
	t.Setenv("GEOSEG_BACKEND_TIMEOUT", "45s")

	cfg := Load()

	assert.Equal(t, "https://new.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Backend.Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{
			name:    "unknown variant",
			mutate:  func(c *Config) { c.Backend.Variant = "grpc" },
			wantErr: "invalid backend variant",
		},
		{
			name:    "relay without url",
			mutate:  func(c *Config) { c.Backend.Variant = VariantRelay },
			wantErr: "relay_url required",
		},
		{
			name: "relay with url",
			mutate: func(c *Config) {
				c.Backend.Variant = VariantRelay
				c.Backend.RelayURL = "http://localhost:8787/segment-image"
			},
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Backend.Timeout = -time.Second },
			wantErr: "timeout cannot be negative",
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.Upload.Policy = "pdf" },
			wantErr: "invalid upload policy",
		},
		{
			name:    "oauth without client id",
			mutate:  func(c *Config) { c.Backend.OAuthTokenURL = "https://auth.example.com/token" },
			wantErr: "oauth_client_id required",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Relay.Port = 70000 },
			wantErr: "invalid relay port",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid logging format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearBackendEnv(t)
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-abc")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")
	assert.Equal(t, "sk-live-abc", s.Value())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
