// Package main implements the geoseg CLI: segment aerial images against a
// remote segmentation service from the shell, a terminal viewer or a
// watched directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// flags shared by every command; empty values leave the loaded config alone
	configPath string
	baseURL    string
	apiKey     string
	variant    string
	policy     string
	logLevel   string

	// version information (set via ldflags during build)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geoseg",
	Short: "Segment aerial and satellite imagery",
	Long: `geoseg sends aerial images to a segmentation service and reports the
land-cover mask and per-class statistics.

Configuration comes from GEOSEG_* environment variables (VITE_API_BASE_URL
and VITE_API_KEY are honoured too), an optional YAML file and the flags
below, in increasing order of precedence.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to config.yaml (default: environment only)")
	flags.StringVar(&baseURL, "base-url", "", "segmentation service base URL")
	flags.StringVar(&apiKey, "api-key", "", "API key sent as x-api-key")
	flags.StringVar(&variant, "variant", "", "backend variant: rest or relay")
	flags.StringVar(&policy, "policy", "", "upload policy: image or tiff")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "geoseg by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
