package watch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/geosegment/internal/notify"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

type stubBackend struct {
	mu    sync.Mutex
	files []string
	res   *segment.Result
	err   error
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Probe(context.Context) segment.HealthState { return segment.HealthHealthy }

func (b *stubBackend) Segment(_ context.Context, f *upload.File) (*segment.Result, error) {
	b.mu.Lock()
	b.files = append(b.files, f.Name)
	b.mu.Unlock()
	return b.res, b.err
}

func (b *stubBackend) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.files...)
}

func TestCandidate(t *testing.T) {
	tests := map[string]bool{
		"scene.tif":            true,
		"photo.PNG":            true,
		".hidden.tif":          false,
		"scene.mask.png":       false,
		"scene.STATS.json":     false,
		"download.tif.part":    false,
		"download.crdownload":  false,
		"/abs/path/scene.tiff": true,
	}
	for name, want := range tests {
		assert.Equal(t, want, Candidate(name), name)
	}
}

func TestNewDetector_Errors(t *testing.T) {
	_, err := NewDetector(filepath.Join(t.TempDir(), "missing"), 0, nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = NewDetector(file, 0, nil)
	assert.Error(t, err)
}

func TestDetector_Existing(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tif", "a.mask.png", ".x.tif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.tif"), 0o700))

	d, err := NewDetector(dir, 0, nil)
	require.NoError(t, err)
	defer d.Stop()

	files, err := d.Existing()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.tif"), filepath.Join(dir, "b.tif")}, files)
}

func TestDetector_ReportsSettledFiles(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDetector(dir, 50*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	path := filepath.Join(dir, "scene.tif")
	require.NoError(t, os.WriteFile(path, []byte("II*\x00"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.mask.png"), []byte("x"), 0o600))

	select {
	case ev := <-d.Events():
		assert.Equal(t, path, ev.Path)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for file event")
	}

	select {
	case ev := <-d.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDetector_StopIsIdempotent(t *testing.T) {
	d, err := NewDetector(t.TempDir(), 0, nil)
	require.NoError(t, err)
	d.Stop()
	d.Stop()
}

func TestProcessor_WritesOutputs(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	path := filepath.Join(in, "scene.tif")
	require.NoError(t, os.WriteFile(path, []byte("II*\x00data"), 0o600))

	acc := 0.89
	b := &stubBackend{res: &segment.Result{
		MaskURL: segment.DataURIPrefix + base64.StdEncoding.EncodeToString([]byte("PNGDATA")),
		Stats:   []segment.ClassStat{{ClassID: 1, ClassName: "Vegetação Densa", Pixels: 10, Percent: 100}},
		Metrics: &segment.Accuracy{Accuracy: acc},
	}}
	notes := notify.NewChannelNotifier(4)
	p := NewProcessor(b, upload.NewFilter(upload.TIFFOnly, 0), out, notes, nil)

	require.NoError(t, p.Process(context.Background(), path))

	maskPath, statsPath := p.OutputPaths("scene.tif")
	mask, err := os.ReadFile(maskPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("PNGDATA"), mask)

	data, err := os.ReadFile(statsPath)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "scene.tif", report.File)
	assert.Equal(t, "stub", report.Backend)
	require.Len(t, report.Stats, 1)
	require.NotNil(t, report.Accuracy)
	assert.Equal(t, 0.89, *report.Accuracy)
	assert.Nil(t, report.IoU)

	assert.Equal(t, notify.LevelSuccess, (<-notes.C()).Level)
}

func TestProcessor_PlaceholderMask(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	path := filepath.Join(in, "scene.tif")
	require.NoError(t, os.WriteFile(path, []byte("II*\x00data"), 0o600))

	b := &stubBackend{res: &segment.Result{MaskURL: segment.DataURIPrefix + "base64_encoded_image_here!"}}
	p := NewProcessor(b, upload.NewFilter(upload.TIFFOnly, 0), out, nil, nil)
	require.NoError(t, p.Process(context.Background(), path))

	maskPath, statsPath := p.OutputPaths("scene.tif")
	_, err := os.Stat(maskPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(statsPath)
	assert.NoError(t, err)
}

func TestProcessor_RejectsByPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0o600))

	b := &stubBackend{}
	notes := notify.NewChannelNotifier(4)
	p := NewProcessor(b, upload.NewFilter(upload.TIFFOnly, 0), dir, notes, nil)

	err := p.Process(context.Background(), path)
	var verr *upload.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Empty(t, b.seen())
	assert.Equal(t, notify.LevelError, (<-notes.C()).Level)
}

func TestProcessor_BackendFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.tif")
	require.NoError(t, os.WriteFile(path, []byte("II*\x00"), 0o600))

	b := &stubBackend{err: &segment.SegmentationError{Endpoint: segment.EndpointSegmentFull, StatusCode: 503, Body: "busy"}}
	p := NewProcessor(b, upload.NewFilter(upload.TIFFOnly, 0), dir, nil, nil)
	assert.Error(t, p.Process(context.Background(), path))

	_, statsPath := p.OutputPaths("scene.tif")
	_, err := os.Stat(statsPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessor_RunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDetector(dir, 30*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	b := &stubBackend{res: &segment.Result{Stats: []segment.ClassStat{}}}
	p := NewProcessor(b, upload.NewFilter(upload.TIFFOnly, 0), dir, nil, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, d.Events()) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "drop.tif"), []byte("II*\x00"), 0o600))
	assert.Eventually(t, func() bool {
		_, statsPath := p.OutputPaths("drop.tif")
		_, err := os.Stat(statsPath)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{"drop.tif"}, b.seen())
}
