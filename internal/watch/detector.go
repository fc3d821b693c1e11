// Package watch turns a directory into a hot folder: images dropped into it
// are segmented and their masks and statistics written next to them.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/geosegment/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Output suffixes; files ending in these are never picked up.
const (
	MaskSuffix  = ".mask.png"
	StatsSuffix = ".stats.json"
)

// DefaultSettle is how long a file must stay quiet before it is reported.
const DefaultSettle = 500 * time.Millisecond

// Event reports a file that appeared or changed and then settled.
type Event struct {
	Path      string
	Timestamp time.Time
}

// Detector watches one directory for new or rewritten files.
type Detector struct {
	dir     string
	settle  time.Duration
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	events chan Event
	stop   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewDetector creates a detector for dir.
func NewDetector(dir string, settle time.Duration, logger *logging.Logger) (*Detector, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory: %s is not a directory", dir)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Detector{
		dir:     dir,
		settle:  settle,
		watcher: watcher,
		logger:  logger.Named("watch"),
		events:  make(chan Event, 16),
		stop:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Start begins watching in a background goroutine. Call Stop to release
// the watcher.
func (d *Detector) Start(ctx context.Context) error {
	if err := d.watcher.Add(d.dir); err != nil {
		return fmt.Errorf("watching %s: %w", d.dir, err)
	}
	go d.processEvents(ctx)
	return nil
}

// Stop stops the detector. It is safe to call more than once.
func (d *Detector) Stop() {
	d.once.Do(func() {
		close(d.stop)
		_ = d.watcher.Close()

		d.mu.Lock()
		for path, t := range d.pending {
			t.Stop()
			delete(d.pending, path)
		}
		d.mu.Unlock()
	})
}

// Events returns settled file events.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Existing lists candidate files already present in the directory, sorted
// by name.
func (d *Detector) Existing() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !Candidate(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(d.dir, e.Name()))
	}
	return out, nil
}

// Candidate reports whether a file name may be an input image: not hidden,
// not a partial download and not one of our outputs.
func Candidate(name string) bool {
	base := filepath.Base(name)
	lower := strings.ToLower(base)
	switch {
	case strings.HasPrefix(base, "."):
		return false
	case strings.HasSuffix(lower, MaskSuffix), strings.HasSuffix(lower, StatsSuffix):
		return false
	case strings.HasSuffix(lower, ".part"), strings.HasSuffix(lower, ".tmp"), strings.HasSuffix(lower, ".crdownload"):
		return false
	}
	return true
}

func (d *Detector) processEvents(ctx context.Context) {
	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			d.Stop()
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && Candidate(event.Name) {
				d.schedule(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn(ctx, "filesystem watcher error", zap.Error(err))
		}
	}
}

// schedule (re)arms the settle timer for path.
func (d *Detector) schedule(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[path]; ok {
		t.Reset(d.settle)
		return
	}
	d.pending[path] = time.AfterFunc(d.settle, func() {
		d.mu.Lock()
		delete(d.pending, path)
		d.mu.Unlock()

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return
		}
		select {
		case d.events <- Event{Path: path, Timestamp: time.Now()}:
		case <-d.stop:
		}
	})
}
