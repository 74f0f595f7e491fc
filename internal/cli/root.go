// Package cli provides the command-line interface for ikanban.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ikanban/ikanban/internal/app"
)

// Command group IDs.
const (
	groupSetup    = "setup"
	groupTask     = "task"
	groupWorktree = "worktree"
	groupObserve  = "observe"
)

// NewRootCommand creates the root command for ikanban.
// It receives the container for dependency injection and version for display.
// A nil container is only valid for help, version and config template.
func NewRootCommand(c *app.Container, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "ikanban",
		Short: "Run coding agent tasks in isolated git worktrees",
		Long: `ikanban runs coding agent tasks against registered git projects.

Each task gets its own git worktree and an agent session on the runtime
server. Tasks move through queued, creating_worktree, running and review,
and end up completed (optionally squash-merged) or failed.`,
		Version: version,
		// SilenceUsage prevents usage from being printed on errors
		SilenceUsage: true,
		// SilenceErrors prevents Cobra from printing errors (we handle it in main)
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c == nil || c.Config == nil {
				return nil
			}
			for _, w := range c.Config.Warnings {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
			}
			return nil
		},
	}

	root.AddGroup(
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
		&cobra.Group{ID: groupTask, Title: "Task Management:"},
		&cobra.Group{ID: groupWorktree, Title: "Worktree Management:"},
		&cobra.Group{ID: groupObserve, Title: "Observability:"},
	)

	// Setup commands
	projectCmd := newProjectCommand(c)
	projectCmd.GroupID = groupSetup

	configCmd := newConfigCommand(c)
	configCmd.GroupID = groupSetup

	// Task management commands
	runCmd := newRunCommand(c)
	runCmd.GroupID = groupTask

	listCmd := newListCommand(c)
	listCmd.GroupID = groupTask

	showCmd := newShowCommand(c)
	showCmd.GroupID = groupTask

	followUpCmd := newFollowUpCommand(c)
	followUpCmd.GroupID = groupTask

	completeCmd := newCompleteCommand(c)
	completeCmd.GroupID = groupTask

	retryCmd := newRetryCommand(c)
	retryCmd.GroupID = groupTask

	rmCmd := newRmCommand(c)
	rmCmd.GroupID = groupTask

	messagesCmd := newMessagesCommand(c)
	messagesCmd.GroupID = groupTask

	// Worktree commands
	diffCmd := newDiffCommand(c)
	diffCmd.GroupID = groupWorktree

	mergeCmd := newMergeCommand(c)
	mergeCmd.GroupID = groupWorktree

	cleanupCmd := newCleanupCommand(c)
	cleanupCmd.GroupID = groupWorktree

	worktreesCmd := newWorktreesCommand(c)
	worktreesCmd.GroupID = groupWorktree

	// Observability commands
	watchCmd := newWatchCommand(c)
	watchCmd.GroupID = groupObserve

	eventsCmd := newEventsCommand(c)
	eventsCmd.GroupID = groupObserve

	root.AddCommand(
		projectCmd,
		configCmd,
		runCmd,
		listCmd,
		showCmd,
		followUpCmd,
		completeCmd,
		retryCmd,
		rmCmd,
		messagesCmd,
		diffCmd,
		mergeCmd,
		cleanupCmd,
		worktreesCmd,
		watchCmd,
		eventsCmd,
	)

	return root
}
