package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ikanban/ikanban/internal/app"
	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/eventbus"
	"github.com/ikanban/ikanban/internal/infra/eventlog"
)

var errNoJournal = errors.New("event journal is not available")

// newEventsCommand creates the events command.
func newEventsCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Task    string
		Project string
		Types   []string
		Limit   int
		JSON    bool
	}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show journaled runtime events",
		Long: `Show events recorded in the event journal ($XDG_DATA_HOME/ikanban/events.db).

Every ikanban process appends the events it emits; RUN groups the events
of one process.

Examples:
  # Last 50 events
  ikanban events

  # Lifecycle of one task
  ikanban events --task login-fix --type task.state.changed --type task.failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.Journal == nil {
				return errNoJournal
			}
			filter := eventlog.Filter{TaskID: opts.Task, Limit: opts.Limit}
			if opts.Project != "" {
				p, err := findProjectByRef(c, opts.Project)
				if err != nil {
					return err
				}
				filter.ProjectID = p.ID
			}
			for _, t := range opts.Types {
				filter.Types = append(filter.Types, domain.EventType(t))
			}

			records, err := c.Journal.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if opts.JSON {
				events := make([]domain.RuntimeEvent, len(records))
				for i, r := range records {
					events[i] = r.Event
				}
				return writeJSON(cmd.OutOrStdout(), events)
			}
			printEvents(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Task, "task", "", "Only events of this task")
	cmd.Flags().StringVarP(&opts.Project, "project", "p", "", "Only events of this project")
	cmd.Flags().StringArrayVar(&opts.Types, "type", nil, "Only events of this type (repeatable)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "Most recent N events (0 for all)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")

	cmd.AddCommand(newEventsPruneCommand(c))

	return cmd
}

// newEventsPruneCommand creates the events prune subcommand.
func newEventsPruneCommand(c *app.Container) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old journaled events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.Journal == nil {
				return errNoJournal
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive: %w", domain.ErrValidation)
			}
			n, err := c.Journal.Prune(cmd.Context(), c.Clock.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d events\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Delete events emitted before this age")

	return cmd
}

func printEvents(w io.Writer, records []eventlog.Record) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "No events found.")
		return
	}
	for _, r := range records {
		entry := eventbus.ToLogEntry(r.Event)
		_, _ = fmt.Fprintf(w, "%s  %-5s  %-28s  %s  %s\n",
			r.Event.EmittedAt.Format("2006-01-02 15:04:05"),
			strings.ToUpper(string(entry.Level)),
			r.Event.Type,
			shortRun(r.RunID),
			entry.Message,
		)
	}
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
