package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ikanban/ikanban/internal/app"
	"github.com/ikanban/ikanban/internal/domain"
)

// newProjectCommand creates the project command.
func newProjectCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "Manage registered projects",
		Long: `Manage the git repositories ikanban runs tasks against.

Projects are stored in $XDG_DATA_HOME/ikanban/projects.json.`,
	}

	cmd.AddCommand(newProjectAddCommand(c))
	cmd.AddCommand(newProjectListCommand(c))
	cmd.AddCommand(newProjectRmCommand(c))

	return cmd
}

// newProjectAddCommand creates the project add subcommand.
func newProjectAddCommand(c *app.Container) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add [path]",
		Short: "Register a git repository",
		Long: `Register a git repository as a project.

The path defaults to the current directory. The name defaults to the
directory name.

Examples:
  # Register the current repository
  ikanban project add

  # Register another repository under a custom name
  ikanban project add ~/src/api --name api`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := c.Paths.WorkDir
			if len(args) > 0 {
				root = args[0]
			}
			p, err := c.Projects.Register(name, root)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered project %s (%s) at %s\n", p.Name, p.ID, p.RootDirectory)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Project name (default: directory name)")

	return cmd
}

// newProjectListCommand creates the project list subcommand.
func newProjectListCommand(c *app.Container) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := c.Projects.List()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), projects)
			}
			printProjectList(cmd.OutOrStdout(), projects)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	return cmd
}

// newProjectRmCommand creates the project rm subcommand.
func newProjectRmCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id|name>",
		Short: "Unregister a project",
		Long: `Unregister a project. The repository and its worktrees are left alone.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := findProjectByRef(c, args[0])
			if err != nil {
				return err
			}
			if err := c.Projects.Remove(p.ID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed project %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
}

// printProjectList prints projects in a table.
func printProjectList(w io.Writer, projects []*domain.ProjectRef) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "ID\tNAME\tROOT\tCREATED")
	for _, p := range projects {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.RootDirectory, p.CreatedAt.Format(time.RFC3339))
	}
}

// findProjectByRef looks a project up by id, then by name.
func findProjectByRef(c *app.Container, ref string) (*domain.ProjectRef, error) {
	p, err := c.Projects.Get(ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrProjectNotFound) {
		return nil, err
	}
	projects, err := c.Projects.List()
	if err != nil {
		return nil, err
	}
	var match *domain.ProjectRef
	for _, p := range projects {
		if p.Name != ref {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("project name %q is ambiguous, use the id: %w", ref, domain.ErrValidation)
		}
		match = p
	}
	if match == nil {
		return nil, fmt.Errorf("project %s: %w", ref, domain.ErrProjectNotFound)
	}
	return match, nil
}

// resolveProject returns the project named by ref, or the one containing the
// working directory when ref is empty.
func resolveProject(c *app.Container, ref string) (*domain.ProjectRef, error) {
	if ref != "" {
		return findProjectByRef(c, ref)
	}
	if c.Project != nil {
		return c.Project, nil
	}
	if p := c.FindProject(c.Paths.WorkDir); p != nil {
		return p, nil
	}
	return nil, errors.New("project is required (use --project or run inside a registered project)")
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readPrompt joins prompt arguments; a single "-" reads the prompt from stdin.
func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		return string(data), nil
	}
	return joinArgs(args), nil
}
