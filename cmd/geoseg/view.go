package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/geosegment/internal/notify"
	"github.com/fyrsmithlabs/geosegment/internal/session"
	"github.com/fyrsmithlabs/geosegment/internal/viewer"
)

func init() {
	rootCmd.AddCommand(viewCmd)
}

var viewCmd = &cobra.Command{
	Use:   "view [file]",
	Short: "Interactive segmentation viewer",
	Long: `Open the terminal viewer. Pick an image, submit it and inspect the
class breakdown and accuracy metrics. The backend is probed once on start
(press r to probe again); processing is disabled while it reports unhealthy.

Keyboard shortcuts:
  o  open a file      p  process
  c  clear            r  re-check health
  q  quit`,
	Args: cobra.MaximumNArgs(1),
	RunE: runView,
}

func runView(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	// console logs share the terminal with the UI
	if logLevel == "" {
		logLevel = "error"
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	notes := notify.NewChannelNotifier(16)
	sess := session.New(a.backend,
		session.WithFilter(a.filter),
		session.WithNotifier(notes),
		session.WithJobs(a.jobs),
		session.WithLogger(a.logger),
	)

	model := viewer.NewModel(sess, a.catalog, notes.C())
	if len(args) == 1 {
		model = model.WithPath(args[0])
	}

	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
