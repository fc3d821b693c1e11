package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/geosegment/internal/watch"
)

var (
	watchOutDir string
	watchSettle time.Duration
	watchOnce   bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchOutDir, "out-dir", "", "directory for masks and stats (default: the watched directory)")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", watch.DefaultSettle, "quiet period before a new file is processed")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "process files already present and exit")
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Segment every image dropped into a directory",
	Long: `Watch a directory and segment each image that appears in it. For every
input <name>.<ext> the mask is written to <name>.mask.png and the class
statistics to <name>.stats.json. Files already present are processed first.

Examples:
  # Process a drop folder until interrupted
  geoseg watch ./incoming --out-dir ./segmented

  # Process what is there now and exit
  geoseg watch ./incoming --once`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := args[0]
	outDir := watchOutDir
	if outDir == "" {
		outDir = dir
	}

	detector, err := watch.NewDetector(dir, watchSettle, a.logger)
	if err != nil {
		return err
	}
	defer detector.Stop()
	processor := watch.NewProcessor(a.backend, a.filter, outDir, a.notifier, a.logger)

	existing, err := detector.Existing()
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range existing {
		if err := processor.Process(ctx, path); err != nil {
			failed++
		}
	}
	if watchOnce {
		fmt.Fprintf(cmd.OutOrStdout(), "Processed %d file(s), %d failed\n", len(existing), failed)
		if failed > 0 {
			return fmt.Errorf("%d of %d file(s) failed", failed, len(existing))
		}
		return nil
	}

	if err := detector.Start(ctx); err != nil {
		return err
	}
	a.logger.Info(ctx, "watching directory", zap.String("dir", dir), zap.String("out_dir", outDir))

	err = processor.Run(ctx, detector.Events())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
