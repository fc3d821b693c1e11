// Package session holds the interactive upload/process state machine.
//
//	Idle -> FileSelected -> Processing -> ResultsReady
//	                             |
//	                             +-> (failed) -> FileSelected
//
// Selecting a new file or clearing the selection cancels any in-flight
// request; its late result is discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/geosegment/internal/jobs"
	"github.com/fyrsmithlabs/geosegment/internal/logging"
	"github.com/fyrsmithlabs/geosegment/internal/notify"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

// State is the session's position in the upload/process lifecycle.
type State int

const (
	Idle State = iota
	FileSelected
	Processing
	ResultsReady
)

func (s State) String() string {
	switch s {
	case FileSelected:
		return "file_selected"
	case Processing:
		return "processing"
	case ResultsReady:
		return "results_ready"
	default:
		return "idle"
	}
}

// Notification texts.
const (
	MsgSuccess = "segmentation completed successfully"
	MsgFailure = "failed to process the image, please try again"
)

var (
	ErrNoFile             = errors.New("no file selected")
	ErrBusy               = errors.New("a segmentation request is already in flight")
	ErrBackendUnavailable = errors.New("segmentation backend is unavailable")
	ErrSuperseded         = errors.New("selection changed while processing")
)

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ID      string
	State   State
	File    *upload.File
	Health  segment.HealthState
	Result  *segment.Result
	LastErr error
}

// Session drives one user's interaction with a backend. It is safe for
// concurrent use.
type Session struct {
	id       string
	backend  segment.Backend
	filter   upload.Filter
	notifier notify.Notifier
	jobs     *jobs.Registry
	logger   *logging.Logger
	timeout  time.Duration

	mu      sync.Mutex
	state   State
	file    *upload.File
	health  segment.HealthState
	result  *segment.Result
	lastErr error
	gen     uint64
	cancel  context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithFilter sets the upload acceptance policy.
func WithFilter(f upload.Filter) Option {
	return func(s *Session) { s.filter = f }
}

// WithNotifier sets where success and failure messages go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Session) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithJobs records every processing attempt in r.
func WithJobs(r *jobs.Registry) Option {
	return func(s *Session) { s.jobs = r }
}

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds each processing request. Zero means unbounded.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// New creates an idle session over backend.
func New(backend segment.Backend, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		backend:  backend,
		filter:   upload.NewFilter(upload.TIFFOnly, 0),
		notifier: notify.Nop{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	return s
}

// ID identifies the session in logs and job events.
func (s *Session) ID() string { return s.id }

// Backend returns the backend the session submits to.
func (s *Session) Backend() segment.Backend { return s.backend }

// Filter returns the active upload policy.
func (s *Session) Filter() upload.Filter { return s.filter }

// CheckHealth probes the backend and records the outcome.
func (s *Session) CheckHealth(ctx context.Context) segment.HealthState {
	h := s.backend.Probe(s.withContext(ctx))
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
	return h
}

// Select validates f against the upload policy and makes it the current
// file, dropping any previous result and cancelling an in-flight request.
// A rejected file leaves the session unchanged.
func (s *Session) Select(ctx context.Context, f *upload.File) error {
	ctx = s.withContext(ctx)
	if err := s.filter.Accept(f); err != nil {
		s.notifier.Notify(ctx, notify.Error(s.filter.Policy.Prompt(), err))
		return err
	}

	s.mu.Lock()
	s.resetLocked()
	s.file = f
	s.state = FileSelected
	s.mu.Unlock()

	s.logger.Debug(ctx, "file selected",
		zap.String("file", f.Name),
		zap.String("size", upload.FormatSize(f.Size)),
		zap.String("content_type", f.ContentType))
	return nil
}

// Clear drops the selection and any result, returning to Idle.
func (s *Session) Clear() {
	s.mu.Lock()
	s.resetLocked()
	s.file = nil
	s.state = Idle
	s.mu.Unlock()
}

// resetLocked cancels in-flight work and forgets results. Callers hold mu.
func (s *Session) resetLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.result = nil
	s.lastErr = nil
}

// CanProcess reports whether Process would start a request: a file is
// selected, nothing is in flight and the last probe was not unhealthy.
func (s *Session) CanProcess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked() == nil
}

func (s *Session) checkLocked() error {
	switch {
	case s.file == nil:
		return ErrNoFile
	case s.state == Processing:
		return ErrBusy
	case s.health == segment.HealthUnhealthy:
		return ErrBackendUnavailable
	}
	return nil
}

// Process submits the selected file and blocks until the backend answers,
// the request is cancelled, or the selection changes. On failure the file
// stays selected so the user can retry.
func (s *Session) Process(ctx context.Context) (*segment.Result, error) {
	ctx = s.withContext(ctx)

	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	gen := s.gen
	file := s.file
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	s.cancel = cancel
	s.state = Processing
	s.result = nil
	s.lastErr = nil
	s.mu.Unlock()
	defer cancel()

	jobID := s.startJob(ctx, file)
	if jobID != "" {
		ctx = logging.WithJob(ctx, &logging.Job{ID: jobID, File: file.Name, Backend: s.backend.Name()})
	}
	s.logger.Info(ctx, "processing image")

	start := time.Now()
	res, err := s.backend.Segment(ctx, file)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Info(ctx, "discarding result for superseded selection")
		s.finishJob(ctx, jobID, nil, ErrSuperseded)
		return nil, ErrSuperseded
	}
	s.cancel = nil
	if err != nil {
		s.state = FileSelected
		s.lastErr = err
		s.mu.Unlock()

		s.logger.Warn(ctx, "segmentation failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		s.finishJob(ctx, jobID, nil, err)
		s.notifier.Notify(ctx, notify.Error(MsgFailure, err))
		return nil, fmt.Errorf("processing %s: %w", file.Name, err)
	}
	s.state = ResultsReady
	s.result = res
	s.mu.Unlock()

	s.logger.Info(ctx, "segmentation completed",
		zap.Int("classes", len(res.Stats)),
		zap.Duration("elapsed", time.Since(start)))
	s.finishJob(ctx, jobID, res, nil)
	s.notifier.Notify(ctx, notify.Success(MsgSuccess))
	return res, nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:      s.id,
		State:   s.state,
		File:    s.file,
		Health:  s.health,
		Result:  s.result,
		LastErr: s.lastErr,
	}
}

func (s *Session) withContext(ctx context.Context) context.Context {
	return logging.WithSessionID(ctx, s.id)
}

func (s *Session) startJob(ctx context.Context, f *upload.File) string {
	if s.jobs == nil {
		return ""
	}
	id := s.jobs.Create(ctx, s.id, f.Name, f.Size, s.backend.Name())
	if err := s.jobs.Started(id); err != nil {
		s.logger.Warn(ctx, "failed to publish job event", zap.Error(err))
	}
	return id
}

func (s *Session) finishJob(ctx context.Context, id string, res *segment.Result, err error) {
	if id == "" {
		return
	}
	var pubErr error
	if err != nil {
		pubErr = s.jobs.Failed(id, err)
	} else {
		pubErr = s.jobs.Completed(id, len(res.Stats))
	}
	if pubErr != nil {
		s.logger.Warn(ctx, "failed to publish job event", zap.Error(pubErr))
	}
}
