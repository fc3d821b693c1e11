package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
	"github.com/fyrsmithlabs/geosegment/internal/logging"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(logging.NewNop(), nil, opts...)
	require.NoError(t, err)
	return s
}

func multipartRequest(t *testing.T, path, field, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s := newTestServer(t)
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, 8787, s.config.Port)
		assert.Equal(t, 8, s.catalog.Len())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestServer_Preflight(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/segment-image", segment.RelayPath, "/anything"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, AllowHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Empty(t, rec.Body.String())
	}
}

func TestServer_Segment(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/segment-image", segment.RelayPath} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, multipartRequest(t, path, "file", "scene.tif", []byte("II*\x00data")))

		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))

		var got segment.RelayResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.NotNil(t, got.Accuracy)
		assert.Equal(t, 0.89, *got.Accuracy)
		assert.Equal(t, 0.87, *got.F1Score)
		assert.Equal(t, 0.82, *got.IoU)
		assert.Equal(t, []float64{15.3, 8.7, 12.1, 22.4, 5.6, 3.2, 28.5, 4.2}, got.ClassPercentages)
		assert.NotEmpty(t, got.SegmentedImage)
	}
}

func TestServer_SegmentWithoutFile(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"wrong field", multipartRequest(t, "/segment-image", "image", "a.tif", []byte("x"))},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/segment-image", strings.NewReader("{}"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, tt.req)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
			assert.JSONEq(t, `{"error":"no file was uploaded"}`, rec.Body.String())
		})
	}
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_PromMetrics(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_Upstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/segment-full", r.URL.Path)
		_, _ = io.WriteString(w, `{"mask_png_base64":"QUJD","stats":[`+
			`{"class_id":5,"class_name":"Água","pixels":30,"percent":30},`+
			`{"class_id":1,"class_name":"Mata","pixels":70,"percent":70}]}`)
	}))
	defer upstream.Close()

	s := newTestServer(t, WithUpstream(segment.NewClient(segment.Config{BaseURL: upstream.URL})))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, "/segment-image", "file", "scene.tif", []byte("II*\x00data")))
	require.Equal(t, http.StatusOK, rec.Code)

	var got segment.RelayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "QUJD", got.SegmentedImage)
	assert.Equal(t, []float64{70, 0, 0, 0, 30, 0, 0, 0}, got.ClassPercentages)
	assert.Equal(t, 0.89, *got.Accuracy)
}

func TestServer_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "model offline")
	}))
	defer upstream.Close()

	s := newTestServer(t, WithUpstream(segment.NewClient(segment.Config{BaseURL: upstream.URL})))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, "/segment-image", "file", "scene.tif", []byte("x")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body segment.RelayError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "502")
	assert.Contains(t, body.Error, "model offline")
}

func TestServer_RoundTripWithRelayBackend(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	b := segment.NewRelayBackend(segment.NewClient(segment.Config{BaseURL: srv.URL}), srv.URL+"/segment-image", nil)
	res, err := b.Segment(context.Background(), upload.New("scene.tif", []byte("II*\x00data")))
	require.NoError(t, err)

	require.NotNil(t, res.Metrics)
	assert.Equal(t, 0.89, res.Metrics.Accuracy)
	require.Len(t, res.Stats, 8)
	assert.Equal(t, 28.5, res.Stats[6].Percent)

	mask, err := segment.DecodeDataURI(res.MaskURL)
	require.NoError(t, err)
	stats, err := segment.MaskStats(mask, classes.Default())
	require.NoError(t, err)
	require.Len(t, stats, 8)
	for i, st := range stats {
		assert.InDelta(t, MockPercentages[i], st.Percent, 1.0, "class %d", st.ClassID)
	}
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	s := newTestServer(t, WithMeter(mp.Meter(instrumentationName)))
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Handler().ServeHTTP(httptest.NewRecorder(), multipartRequest(t, "/segment-image", "file", "a.tif", []byte("abc")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == "geosegment.relay.requests_total" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				assert.Equal(t, int64(2), total)
			}
		}
	}
	assert.True(t, found["geosegment.relay.requests_total"])
	assert.True(t, found["geosegment.relay.request_duration_seconds"])
	assert.True(t, found["geosegment.relay.upload_size_bytes"])
}

func TestRenderMask_Empty(t *testing.T) {
	mask, err := RenderMask(nil, classes.Default(), 4, 4)
	require.NoError(t, err)
	stats, err := segment.MaskStats(mask, classes.Default())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 0, stats[0].ClassID)
	assert.Equal(t, float64(100), stats[0].Percent)
}
