package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/geosegment/internal/logging"
	"github.com/fyrsmithlabs/geosegment/internal/notify"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

// Report is written to <name>.stats.json for every processed image.
type Report struct {
	File        string              `json:"file"`
	Backend     string              `json:"backend"`
	ProcessedAt time.Time           `json:"processed_at"`
	Stats       []segment.ClassStat `json:"stats"`
	Accuracy    *float64            `json:"accuracy,omitempty"`
	F1Score     *float64            `json:"f1_score,omitempty"`
	IoU         *float64            `json:"iou,omitempty"`
}

// Processor segments files one at a time and writes the outputs.
type Processor struct {
	backend  segment.Backend
	filter   upload.Filter
	outDir   string
	notifier notify.Notifier
	logger   *logging.Logger
}

// NewProcessor creates a processor writing into outDir.
func NewProcessor(backend segment.Backend, filter upload.Filter, outDir string, notifier notify.Notifier, logger *logging.Logger) *Processor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		backend:  backend,
		filter:   filter,
		outDir:   outDir,
		notifier: notifier,
		logger:   logger.Named("watch"),
	}
}

// Run processes events until ctx is done or events is closed. Failures are
// reported and do not stop the loop.
func (p *Processor) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_ = p.Process(ctx, ev.Path)
		}
	}
}

// Process segments a single file. Files rejected by the upload policy are
// skipped with an error notification.
func (p *Processor) Process(ctx context.Context, path string) error {
	ctx = logging.WithJob(ctx, &logging.Job{ID: uuid.NewString(), File: filepath.Base(path), Backend: p.backend.Name()})

	f, err := upload.Open(path)
	if err != nil {
		p.logger.Warn(ctx, "failed to read file", zap.Error(err))
		return err
	}
	if err := p.filter.Accept(f); err != nil {
		p.logger.Info(ctx, "skipping file", zap.Error(err))
		p.notifier.Notify(ctx, notify.Error(p.filter.Policy.Prompt(), err))
		return err
	}

	start := time.Now()
	res, err := p.backend.Segment(ctx, f)
	if err != nil {
		p.logger.Warn(ctx, "segmentation failed", zap.Error(err))
		p.notifier.Notify(ctx, notify.Error(fmt.Sprintf("failed to process %s", f.Name), err))
		return err
	}

	maskPath, statsPath, err := p.write(f.Name, res)
	if err != nil {
		p.logger.Error(ctx, "failed to write outputs", zap.Error(err))
		p.notifier.Notify(ctx, notify.Error(fmt.Sprintf("failed to save results for %s", f.Name), err))
		return err
	}

	p.logger.Info(ctx, "segmented file",
		zap.String("mask", maskPath),
		zap.String("stats", statsPath),
		zap.Duration("elapsed", time.Since(start)))
	p.notifier.Notify(ctx, notify.Success(fmt.Sprintf("segmented %s", f.Name)))
	return nil
}

// OutputPaths returns where outputs for an input file name are written.
func (p *Processor) OutputPaths(name string) (mask, stats string) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(p.outDir, stem+MaskSuffix), filepath.Join(p.outDir, stem+StatsSuffix)
}

func (p *Processor) write(name string, res *segment.Result) (string, string, error) {
	maskPath, statsPath := p.OutputPaths(name)

	if res.MaskURL != "" {
		mask, err := segment.DecodeDataURI(res.MaskURL)
		switch {
		case errors.Is(err, segment.ErrNotDataURI):
			// Placeholder masks from the relay are not images.
			maskPath = ""
		case err != nil:
			return "", "", err
		default:
			if err := writeFile(maskPath, mask); err != nil {
				return "", "", err
			}
		}
	} else {
		maskPath = ""
	}

	report := Report{
		File:        name,
		Backend:     p.backend.Name(),
		ProcessedAt: time.Now().UTC(),
		Stats:       res.Stats,
	}
	if m := res.Metrics; m != nil {
		acc := m.Accuracy
		report.Accuracy = &acc
		report.F1Score = m.F1Score
		report.IoU = m.IoU
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encoding report: %w", err)
	}
	if err := writeFile(statsPath, data); err != nil {
		return "", "", err
	}
	return maskPath, statsPath, nil
}

// writeFile writes atomically through a temp file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
