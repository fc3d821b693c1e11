package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/session"
	"github.com/fyrsmithlabs/geosegment/internal/watch"
)

var (
	errUnhealthy   = errors.New("segmentation backend is unhealthy")
	errNoModelInfo = errors.New("model info unavailable")

	maskOut   string
	withStats bool
	jsonOut   bool
)

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(segmentFullCmd)

	segmentCmd.Flags().StringVarP(&maskOut, "out", "o", "", "where to write the mask (default: <name>.mask.png)")
	segmentCmd.Flags().BoolVar(&withStats, "stats", false, "print per-class pixel statistics computed from the mask")
	segmentFullCmd.Flags().StringVarP(&maskOut, "out", "o", "", "where to write the mask (default: <name>.mask.png)")
	segmentFullCmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check segmentation backend health",
	Long: `Probe the segmentation backend and exit non-zero when it is unhealthy.

Examples:
  # Check the configured backend
  geoseg health

  # Check a different backend
  geoseg health --base-url http://gpu-01:8000`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show model information",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

var segmentCmd = &cobra.Command{
	Use:   "segment <file>",
	Short: "Segment an image and save the mask",
	Long: `Upload an image to /segment and save the returned PNG mask.

Examples:
  # Save scene.mask.png next to the input
  geoseg segment scene.tif

  # Save elsewhere and print class shares computed from the mask
  geoseg segment scene.tif --out /tmp/mask.png --stats`,
	Args: cobra.ExactArgs(1),
	RunE: runSegment,
}

var segmentFullCmd = &cobra.Command{
	Use:   "segment-full <file>",
	Short: "Segment an image and report per-class statistics",
	Long: `Submit an image to the configured backend and report the mask, the
per-class statistics and, for the relay, the accuracy metrics.

Examples:
  geoseg segment-full scene.tif
  geoseg segment-full scene.tif --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSegmentFull,
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	state := a.backend.Probe(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Backend Status: %s\n", state)
	fmt.Fprintf(cmd.OutOrStdout(), "Backend URL: %s\n", a.cfg.Backend.BaseURL)
	if state == segment.HealthUnhealthy {
		return errUnhealthy
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	info := a.client.ModelInfo(cmd.Context())
	if info == nil {
		return errNoModelInfo
	}
	return writeJSON(cmd.OutOrStdout(), info)
}

func runSegment(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.openImage(args[0])
	if err != nil {
		return err
	}
	mask, err := a.client.SegmentMask(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := maskPath(args[0], maskOut)
	if err := os.WriteFile(out, mask, 0o644); err != nil {
		return fmt.Errorf("failed to write mask: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mask written to %s\n", out)

	if !withStats {
		return nil
	}
	stats, err := segment.MaskStats(mask, a.catalog)
	if err != nil {
		return err
	}
	return printStats(cmd.OutOrStdout(), a.catalog, stats)
}

func runSegmentFull(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.openImage(args[0])
	if err != nil {
		return err
	}

	sess := session.New(a.backend,
		session.WithFilter(a.filter),
		session.WithNotifier(a.notifier),
		session.WithJobs(a.jobs),
		session.WithLogger(a.logger),
	)
	sess.CheckHealth(ctx)
	if err := sess.Select(ctx, f); err != nil {
		return err
	}
	res, err := sess.Process(ctx)
	if err != nil {
		return err
	}

	out := ""
	if mask, err := segment.DecodeDataURI(res.MaskURL); err == nil {
		out = maskPath(args[0], maskOut)
		if err := os.WriteFile(out, mask, 0o644); err != nil {
			return fmt.Errorf("failed to write mask: %w", err)
		}
	}

	if jsonOut {
		report := watch.Report{
			File:        f.Name,
			Backend:     a.backend.Name(),
			ProcessedAt: time.Now().UTC(),
			Stats:       res.Stats,
		}
		if m := res.Metrics; m != nil {
			acc := m.Accuracy
			report.Accuracy = &acc
			report.F1Score = m.F1Score
			report.IoU = m.IoU
		}
		return writeJSON(cmd.OutOrStdout(), report)
	}

	w := cmd.OutOrStdout()
	if out != "" {
		fmt.Fprintf(w, "Mask written to %s\n", out)
	}
	if m := res.Metrics; m != nil {
		fmt.Fprintf(w, "Accuracy: %.1f%%\n", m.Accuracy*100)
		if m.F1Score != nil {
			fmt.Fprintf(w, "F1 score: %.1f%%\n", *m.F1Score*100)
		}
		if m.IoU != nil {
			fmt.Fprintf(w, "IoU:      %.1f%%\n", *m.IoU*100)
		}
	}
	return printStats(w, a.catalog, res.Stats)
}

// maskPath returns override, or <input stem>.mask.png beside the input.
func maskPath(input, override string) string {
	if override != "" {
		return override
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + watch.MaskSuffix
}

// printStats lists stats in the order the backend reported them.
func printStats(w io.Writer, catalog *classes.Catalog, stats []segment.ClassStat) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLASS\tCOLOR\tPIXELS\tSHARE")
	for _, e := range catalog.Legend(segment.LegendRows(stats)) {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", e.ID, e.Name, e.Color, e.Pixels, e.Label())
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
