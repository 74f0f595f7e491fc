package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ikanban/ikanban/internal/app"
	"github.com/ikanban/ikanban/internal/tui"
)

// runWatchProgram runs the watch view, allowing it to be mocked in tests.
var runWatchProgram = func(m *tui.Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// newWatchCommand creates the watch command.
func newWatchCommand(c *app.Container) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch [id]",
		Short: "Watch a task's conversation and runtime events",
		Long: `Open a terminal view of a task.

The view shows the conversation of the task's session and streams the
runtime events of its worktree as they arrive.

With --metrics-addr, Prometheus metrics of this process are served on
/metrics while the view is open.

Keys:
  tab     switch between messages and events
  f       toggle following new output
  r       reload task and messages
  q       quit`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := resolveTaskID(c, args)
			if err != nil {
				return err
			}
			if _, err := c.Orchestrator.GetTask(taskID); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			serveErr := make(chan error, 1)
			if metricsAddr != "" {
				go func() { serveErr <- c.Metrics.Serve(ctx, metricsAddr) }()
			}

			model := tui.New(ctx, c.Orchestrator, c.Bus, taskID)
			runErr := runWatchProgram(model)
			closeErr := model.Close()
			cancel()

			if metricsAddr != "" {
				if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve metrics: %w", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			return closeErr
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}
