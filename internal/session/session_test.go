package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/geosegment/internal/jobs"
	"github.com/fyrsmithlabs/geosegment/internal/notify"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

// fakeBackend answers Segment from a function.
type fakeBackend struct {
	mu      sync.Mutex
	health  segment.HealthState
	segment func(ctx context.Context, f *upload.File) (*segment.Result, error)
	calls   int
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Probe(context.Context) segment.HealthState { return b.health }

func (b *fakeBackend) Segment(ctx context.Context, f *upload.File) (*segment.Result, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.segment(ctx, f)
}

func okResult() *segment.Result {
	return &segment.Result{MaskURL: "data:image/png;base64,AA==", Stats: []segment.ClassStat{{ClassID: 1, Percent: 100}}}
}

func tiff(name string) *upload.File {
	return upload.New(name, []byte("II*\x00payload"))
}

func TestSession_HappyPath(t *testing.T) {
	b := &fakeBackend{health: segment.HealthHealthy, segment: func(context.Context, *upload.File) (*segment.Result, error) {
		return okResult(), nil
	}}
	notes := notify.NewChannelNotifier(4)
	s := New(b, WithNotifier(notes))

	assert.Equal(t, Idle, s.Snapshot().State)
	assert.False(t, s.CanProcess())

	assert.Equal(t, segment.HealthHealthy, s.CheckHealth(context.Background()))
	require.NoError(t, s.Select(context.Background(), tiff("scene.tif")))
	assert.Equal(t, FileSelected, s.Snapshot().State)
	assert.True(t, s.CanProcess())

	res, err := s.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, okResult(), res)

	snap := s.Snapshot()
	assert.Equal(t, ResultsReady, snap.State)
	assert.Equal(t, res, snap.Result)
	assert.Equal(t, notify.LevelSuccess, (<-notes.C()).Level)
}

func TestSession_SelectRejectsByPolicy(t *testing.T) {
	notes := notify.NewChannelNotifier(4)
	s := New(&fakeBackend{}, WithNotifier(notes), WithFilter(upload.NewFilter(upload.TIFFOnly, 0)))

	err := s.Select(context.Background(), upload.New("photo.png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}))
	var verr *upload.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, Idle, s.Snapshot().State)

	n := <-notes.C()
	assert.Equal(t, notify.LevelError, n.Level)
	assert.Equal(t, upload.TIFFOnly.Prompt(), n.Message)

	require.NoError(t, s.Select(context.Background(), tiff("scan.TIFF")))
	assert.Equal(t, FileSelected, s.Snapshot().State)
}

func TestSession_FailureKeepsFileForRetry(t *testing.T) {
	fail := true
	b := &fakeBackend{segment: func(context.Context, *upload.File) (*segment.Result, error) {
		if fail {
			return nil, &segment.SegmentationError{Endpoint: segment.EndpointSegmentFull, StatusCode: 500, Body: "boom"}
		}
		return okResult(), nil
	}}
	notes := notify.NewChannelNotifier(4)
	s := New(b, WithNotifier(notes))
	f := tiff("scene.tif")
	require.NoError(t, s.Select(context.Background(), f))

	_, err := s.Process(context.Background())
	require.Error(t, err)
	var segErr *segment.SegmentationError
	assert.True(t, errors.As(err, &segErr))

	snap := s.Snapshot()
	assert.Equal(t, FileSelected, snap.State)
	assert.Same(t, f, snap.File)
	assert.Error(t, snap.LastErr)
	n := <-notes.C()
	assert.Equal(t, MsgFailure, n.Message)
	assert.Contains(t, n.Detail, "boom")

	fail = false
	_, err = s.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultsReady, s.Snapshot().State)
	assert.Nil(t, s.Snapshot().LastErr)
}

func TestSession_HealthGate(t *testing.T) {
	b := &fakeBackend{health: segment.HealthUnhealthy, segment: func(context.Context, *upload.File) (*segment.Result, error) {
		return okResult(), nil
	}}
	s := New(b)
	require.NoError(t, s.Select(context.Background(), tiff("a.tif")))

	// Unknown is permissive before any probe.
	assert.True(t, s.CanProcess())

	s.CheckHealth(context.Background())
	assert.False(t, s.CanProcess())
	_, err := s.Process(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, 0, b.calls)

	b.health = segment.HealthUnknown
	s.CheckHealth(context.Background())
	_, err = s.Process(context.Background())
	assert.NoError(t, err)
}

func TestSession_ProcessWithoutFile(t *testing.T) {
	s := New(&fakeBackend{})
	_, err := s.Process(context.Background())
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestSession_ClearCancelsInFlight(t *testing.T) {
	entered := make(chan struct{})
	b := &fakeBackend{segment: func(ctx context.Context, _ *upload.File) (*segment.Result, error) {
		close(entered)
		<-ctx.Done()
		return nil, &segment.NetworkError{Endpoint: segment.EndpointSegmentFull, Err: ctx.Err()}
	}}
	notes := notify.NewChannelNotifier(4)
	registry := jobs.NewRegistry(nil)
	s := New(b, WithNotifier(notes), WithJobs(registry))
	require.NoError(t, s.Select(context.Background(), tiff("a.tif")))

	errc := make(chan error, 1)
	go func() {
		_, err := s.Process(context.Background())
		errc <- err
	}()

	<-entered
	assert.Equal(t, Processing, s.Snapshot().State)
	_, err := s.Process(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	s.Clear()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request was not cancelled")
	}

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.File)
	assert.Nil(t, snap.LastErr)
	select {
	case n := <-notes.C():
		t.Fatalf("unexpected notification %q", n.Message)
	default:
	}
}

func TestSession_NewSelectionDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	b := &fakeBackend{segment: func(ctx context.Context, _ *upload.File) (*segment.Result, error) {
		entered <- struct{}{}
		<-release
		// Ignores cancellation and answers late.
		return okResult(), nil
	}}
	s := New(b)
	require.NoError(t, s.Select(context.Background(), tiff("first.tif")))

	errc := make(chan error, 1)
	go func() {
		_, err := s.Process(context.Background())
		errc <- err
	}()
	<-entered

	second := tiff("second.tif")
	require.NoError(t, s.Select(context.Background(), second))
	close(release)

	assert.ErrorIs(t, <-errc, ErrSuperseded)
	snap := s.Snapshot()
	assert.Equal(t, FileSelected, snap.State)
	assert.Same(t, second, snap.File)
	assert.Nil(t, snap.Result)
}

func TestSession_Timeout(t *testing.T) {
	b := &fakeBackend{segment: func(ctx context.Context, _ *upload.File) (*segment.Result, error) {
		<-ctx.Done()
		return nil, &segment.NetworkError{Endpoint: segment.EndpointSegmentFull, Err: ctx.Err()}
	}}
	s := New(b, WithTimeout(20*time.Millisecond))
	require.NoError(t, s.Select(context.Background(), tiff("a.tif")))

	_, err := s.Process(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, FileSelected, s.Snapshot().State)
}

func TestSession_RecordsJobs(t *testing.T) {
	b := &fakeBackend{segment: func(context.Context, *upload.File) (*segment.Result, error) {
		return okResult(), nil
	}}
	registry := jobs.NewRegistry(nil)
	s := New(b, WithJobs(registry))
	require.NoError(t, s.Select(context.Background(), tiff("a.tif")))

	_, err := s.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "file_selected", FileSelected.String())
	assert.Equal(t, "processing", Processing.String())
	assert.Equal(t, "results_ready", ResultsReady.String())
}
