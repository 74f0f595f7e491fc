package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ikanban/ikanban/internal/app"
	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/orchestrator"
)

// newTaskID returns a short random task id.
var newTaskID = func() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// newRunCommand creates the run command.
func newRunCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Project      string
		ID           string
		Title        string
		Model        string
		StartCommand string
		JSON         bool
	}

	cmd := &cobra.Command{
		Use:   "run <prompt...>",
		Short: "Run a task",
		Long: `Run a coding agent task.

A worktree is created under <project>/.worktrees, an agent session is
opened in it and the prompt is submitted. The task then waits in review
until it is merged, completed or followed up.

A single "-" reads the prompt from stdin.

Examples:
  # Run a task in the project containing the current directory
  ikanban run "Fix the flaky login test"

  # Pick the project, task id and model
  ikanban run --project api --id login-fix --model anthropic/claude-sonnet-4 "Fix login"

  # Read a long prompt from a file
  ikanban run - < prompt.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd, args)
			if err != nil {
				return err
			}
			project, err := resolveProject(c, opts.Project)
			if err != nil {
				return err
			}
			model, err := domain.ParseModelRef(opts.Model)
			if err != nil {
				return err
			}
			taskID := opts.ID
			if taskID == "" {
				taskID = newTaskID()
			}

			task, err := c.Orchestrator.RunTask(cmd.Context(), orchestrator.RunTaskInput{
				Model:         model,
				TaskID:        taskID,
				ProjectID:     project.ID,
				InitialPrompt: prompt,
				Title:         opts.Title,
				StartCommand:  opts.StartCommand,
			})
			if err != nil {
				return err
			}

			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), task)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started task %s (session: %s, worktree: %s)\n",
				task.TaskID, task.SessionID, task.WorktreeDirectory)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Project, "project", "p", "", "Project id or name (default: project of the current directory)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "Task id (default: random)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "Task title (default: Task <id>)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "Model as provider/model (default: [runtime].model)")
	cmd.Flags().StringVar(&opts.StartCommand, "start-command", "", "Command run in the new worktree (default: [worktree].start_command)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")

	return cmd
}

// newListCommand creates the list command.
func newListCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Project string
		State   string
		All     bool
		JSON    bool
	}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Long: `Display a list of tasks.

By default, completed tasks are hidden. Use --all to show them.

Output columns:
  ID, PROJECT, STATE, ATTEMPT, AGE, TITLE

Examples:
  # List active tasks
  ikanban list

  # List failed tasks of one project
  ikanban list --project api --state failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectID := ""
			if opts.Project != "" {
				p, err := findProjectByRef(c, opts.Project)
				if err != nil {
					return err
				}
				projectID = p.ID
			}
			state := domain.TaskState(opts.State)
			if state != "" && !state.IsValid() {
				return fmt.Errorf("unknown state %q: %w", opts.State, domain.ErrValidation)
			}

			var tasks []*domain.TaskRuntime
			for _, t := range c.Orchestrator.ListTasks() {
				if projectID != "" && t.ProjectID != projectID {
					continue
				}
				if state != "" && t.State != state {
					continue
				}
				if state == "" && !opts.All && t.State == domain.TaskStateCompleted {
					continue
				}
				tasks = append(tasks, t)
			}

			if opts.JSON {
				if tasks == nil {
					tasks = []*domain.TaskRuntime{}
				}
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			printTaskList(cmd.OutOrStdout(), tasks, c.Clock)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Project, "project", "p", "", "Show only tasks of this project")
	cmd.Flags().StringVar(&opts.State, "state", "", "Show only tasks in this state")
	cmd.Flags().BoolVarP(&opts.All, "all", "a", false, "Show all tasks including completed")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")

	return cmd
}

// printTaskList prints tasks in a table.
func printTaskList(w io.Writer, tasks []*domain.TaskRuntime, clock domain.Clock) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "ID\tPROJECT\tSTATE\tATTEMPT\tAGE\tTITLE")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.TaskID,
			t.ProjectID,
			t.State,
			t.Attempt,
			formatDuration(clock.Now().Sub(t.CreatedAt)),
			t.Title,
		)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// newShowCommand creates the show command.
func newShowCommand(c *app.Container) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Display task details",
		Long: `Display detailed information about a task.

If no ID is provided, the task is detected from the current directory
when it is inside a task worktree.

Examples:
  # Show task by ID
  ikanban show login-fix

  # Auto-detect task from the current worktree
  ikanban show

  # Output in JSON format
  ikanban show login-fix --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := resolveTaskID(c, args)
			if err != nil {
				return err
			}
			task, err := c.Orchestrator.GetTask(taskID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), task)
			}
			printTaskDetails(cmd.OutOrStdout(), task)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	return cmd
}

func printTaskDetails(w io.Writer, t *domain.TaskRuntime) {
	_, _ = fmt.Fprintf(w, "# Task %s: %s\n\n", t.TaskID, t.Title)

	if t.InitialPrompt != "" {
		_, _ = fmt.Fprintf(w, "%s\n\n", strings.TrimSpace(t.InitialPrompt))
	}

	_, _ = fmt.Fprintf(w, "State: %s\n", t.State.Display())
	_, _ = fmt.Fprintf(w, "Project: %s\n", t.ProjectID)
	_, _ = fmt.Fprintf(w, "Attempt: %d\n", t.Attempt)
	if t.ParentTaskID != "" {
		_, _ = fmt.Fprintf(w, "Retry of: %s\n", t.ParentTaskID)
	}
	if t.SessionID != "" {
		_, _ = fmt.Fprintf(w, "Session: %s\n", t.SessionID)
	}
	if t.WorktreeDirectory != "" {
		_, _ = fmt.Fprintf(w, "Worktree: %s\n", t.WorktreeDirectory)
	} else {
		_, _ = fmt.Fprintln(w, "Worktree: none")
	}
	_, _ = fmt.Fprintf(w, "Created: %s\n", t.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Updated: %s\n", t.UpdatedAt.Format(time.RFC3339))
	if t.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", t.Error)
	}
}

// resolveTaskID returns the id argument, or the task whose worktree contains
// the working directory.
func resolveTaskID(c *app.Container, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	dir := c.Paths.WorkDir
	var match *domain.TaskRuntime
	for _, t := range c.Orchestrator.ListTasks() {
		if !t.HasWorktree() || !withinDir(t.WorktreeDirectory, dir) {
			continue
		}
		// Later attempts win over earlier ones in the same worktree
		if match == nil || t.CreatedAt.After(match.CreatedAt) {
			match = t
		}
	}
	if match == nil {
		return "", errors.New("task ID is required (not inside a task worktree)")
	}
	return match.TaskID, nil
}

// withinDir reports whether dir is root or below it.
func withinDir(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

// newFollowUpCommand creates the followup command.
func newFollowUpCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:     "followup <id> <prompt...>",
		Aliases: []string{"send"},
		Short:   "Send a follow-up prompt to a task in review",
		Long: `Send another prompt to the agent session of a task in review.

The task is running while the prompt is submitted and returns to review.
A single "-" after the id reads the prompt from stdin.

Examples:
  ikanban followup login-fix "Also cover the logout path"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd, args[1:])
			if err != nil {
				return err
			}
			sub, err := c.Orchestrator.SendFollowUp(cmd.Context(), args[0], prompt)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent follow-up to task %s (session: %s)\n", args[0], sub.SessionID)
			return nil
		},
	}
}

// newCompleteCommand creates the complete command.
func newCompleteCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [id]",
		Short: "Mark a task in review as completed without merging",
		Long: `Mark a task in review as completed.

The worktree is not merged. Use 'ikanban merge' to squash-merge the
changes instead, and 'ikanban cleanup' to remove the worktree.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := resolveTaskID(c, args)
			if err != nil {
				return err
			}
			task, err := c.Orchestrator.CompleteTask(taskID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Completed task %s: %s\n", task.TaskID, task.Title)
			return nil
		},
	}
}

// newRetryCommand creates the retry command.
func newRetryCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed task",
		Long: `Run a failed task again under a new id (<id>-retry-<n>).

The new run reuses the project, title and initial prompt of the failed task.
The failed task is kept for reference.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.Orchestrator.RetryTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started task %s (attempt %d, retry of %s)\n",
				task.TaskID, task.Attempt, task.ParentTaskID)
			return nil
		},
	}
}

// newRmCommand creates the rm command.
func newRmCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a completed or failed task",
		Long: `Delete a completed or failed task.

The worktree is left alone; run 'ikanban cleanup --policy remove' first to
remove it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.Orchestrator.GetTask(args[0])
			if err != nil {
				return err
			}
			if err := c.Orchestrator.DeleteTask(task.TaskID); err != nil {
				return err
			}
			c.Metrics.Forget(task.TaskID)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", task.TaskID)
			return nil
		},
	}
}

// newMessagesCommand creates the messages command.
func newMessagesCommand(c *app.Container) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "messages [id]",
		Short: "List the conversation of a task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := resolveTaskID(c, args)
			if err != nil {
				return err
			}
			messages, err := c.Orchestrator.ListMessages(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if jsonOut {
				if messages == nil {
					messages = []domain.ConversationMessageMeta{}
				}
				return writeJSON(cmd.OutOrStdout(), messages)
			}
			printMessages(cmd.OutOrStdout(), messages)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	return cmd
}

func printMessages(w io.Writer, messages []domain.ConversationMessageMeta) {
	if len(messages) == 0 {
		_, _ = fmt.Fprintln(w, "No messages.")
		return
	}
	separator := "─────────────────"
	for i, m := range messages {
		if i > 0 {
			_, _ = fmt.Fprintln(w, separator)
		}
		header := fmt.Sprintf("[%s]", m.Role)
		if !m.CreatedAt.IsZero() {
			header += " " + m.CreatedAt.Format(time.RFC3339)
		}
		if m.HasError {
			header += " (error)"
		}
		_, _ = fmt.Fprintln(w, header)
		if m.Preview != "" {
			_, _ = fmt.Fprintln(w, m.Preview)
		} else {
			_, _ = fmt.Fprintf(w, "(%d parts)\n", m.PartCount)
		}
	}
}
