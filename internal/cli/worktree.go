package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ikanban/ikanban/internal/app"
	"github.com/ikanban/ikanban/internal/domain"
)

// newDiffCommand creates the diff command.
func newDiffCommand(c *app.Container) *cobra.Command {
	var stat bool

	cmd := &cobra.Command{
		Use:   "diff [id]",
		Short: "Show the pending changes of a task",
		Long: `Show the pending changes of a task's worktree.

Uncommitted edits are diffed against the default branch. When the worktree
is clean, the committed changes of the task branch are shown instead.
Untracked files are not included.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := resolveTaskID(c, args)
			if err != nil {
				return err
			}
			diff, err := c.Orchestrator.GetTaskDiff(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if stat || diff.IsEmpty() {
				_, _ = fmt.Fprintf(w, "Branch: %s (base: %s, mode: %s)\n", diff.Branch, diff.BaseBranch, diff.Mode)
			}
			if diff.IsEmpty() {
				_, _ = fmt.Fprintln(w, "No changes.")
				return nil
			}
			if !stat {
				_, _ = fmt.Fprint(w, diff.Diff)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stat, "stat", false, "Only show branch and diff mode")

	return cmd
}

// newMergeCommand creates the merge command.
func newMergeCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "merge [id]",
		Short: "Squash-merge a task in review into the default branch",
		Long: `Squash-merge the worktree branch of a task in review into the
default branch of its project.

Uncommitted worktree changes are committed first. A merge that lands moves
the task to completed; a conflict fails the task and leaves the project
checkout clean.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := resolveTaskID(c, args)
			if err != nil {
				return err
			}
			res, err := c.Orchestrator.MergeTaskWorktree(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res.AutoCommitted {
				_, _ = fmt.Fprintf(w, "Committed pending changes on %s\n", res.Branch)
			}
			if !res.Merged {
				_, _ = fmt.Fprintf(w, "Nothing to merge: %s has no commits ahead of %s\n", res.Branch, res.BaseBranch)
				return nil
			}
			_, _ = fmt.Fprintf(w, "Merged %s into %s (%d commits, %s)\n",
				res.Branch, res.BaseBranch, res.AheadCommits, shortHash(res.Commit))
			return nil
		},
	}
}

// newCleanupCommand creates the cleanup command.
func newCleanupCommand(c *app.Container) *cobra.Command {
	var policy string

	cmd := &cobra.Command{
		Use:   "cleanup [id]",
		Short: "Keep or remove the worktree of a task",
		Long: `Clean up the worktree of a task.

With policy "keep" the worktree stays on disk. With policy "remove" the
worktree is removed, along with its branch unless [worktree].delete_branch
is false. The task returns to the state it was in.

The policy defaults to [worktree].cleanup_policy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := resolveTaskID(c, args)
			if err != nil {
				return err
			}
			p, err := parseOptionalPolicy(policy)
			if err != nil {
				return err
			}
			res, err := c.Orchestrator.CleanupTaskWorktree(cmd.Context(), taskID, p)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch {
			case res.Removed:
				_, _ = fmt.Fprintf(w, "Removed worktree %s\n", res.WorktreeDirectory)
			case res.WorktreeDirectory == "":
				_, _ = fmt.Fprintf(w, "Task %s has no worktree\n", res.TaskID)
			default:
				_, _ = fmt.Fprintf(w, "Kept worktree %s\n", res.WorktreeDirectory)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policy, "policy", "", "Cleanup policy: keep or remove")

	return cmd
}

// parseOptionalPolicy parses a policy flag; empty selects the configured default.
func parseOptionalPolicy(s string) (domain.CleanupPolicy, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParseCleanupPolicy(s)
}

// newWorktreesCommand creates the worktrees command.
func newWorktreesCommand(c *app.Container) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "worktrees",
		Short: "List the worktrees of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := resolveProject(c, project)
			if err != nil {
				return err
			}
			dirs, err := c.Worktrees.ListWorktrees(cmd.Context(), p.RootDirectory)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(dirs) == 0 {
				_, _ = fmt.Fprintln(w, "No worktrees.")
				return nil
			}
			owners := worktreeOwners(c)
			for _, dir := range dirs {
				if id, ok := owners[dir]; ok {
					_, _ = fmt.Fprintf(w, "%s\t(task %s)\n", dir, id)
				} else {
					_, _ = fmt.Fprintln(w, dir)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project id or name (default: project of the current directory)")

	return cmd
}

// worktreeOwners maps worktree directories to the task that uses them.
func worktreeOwners(c *app.Container) map[string]string {
	owners := make(map[string]string)
	for _, t := range c.Orchestrator.ListTasks() {
		if t.HasWorktree() {
			owners[t.WorktreeDirectory] = t.TaskID
		}
	}
	return owners
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
