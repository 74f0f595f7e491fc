package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/ikanban/ikanban/internal/app"
	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/infra/config"
)

// newConfigCommand creates the config command.
func newConfigCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `Manage ikanban configuration files and settings.`,
		// No RunE: shows subcommand list when called without arguments
	}

	cmd.AddCommand(newConfigShowCommand(c))
	cmd.AddCommand(newConfigTemplateCommand())
	cmd.AddCommand(newConfigInitCommand(c))

	return cmd
}

// newConfigShowCommand creates the config show subcommand.
func newConfigShowCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration",
		Long: `Display effective configuration after merging all sources.

Shows which config files were considered and the final merged configuration.
The project file is the .ikanban.toml of the registered project containing
the current directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()

			_, _ = fmt.Fprintln(w, "[Loaded from]")
			printConfigSource(w, c.ConfigManager.GetGlobalConfigInfo())
			if c.Project != nil {
				printConfigSource(w, c.ConfigManager.GetProjectConfigInfo(c.Project.RootDirectory))
			}
			_, _ = fmt.Fprintln(w)

			_, _ = fmt.Fprintln(w, "[Effective Config]")
			return formatEffectiveConfig(w, c.Config)
		},
	}
}

func printConfigSource(w io.Writer, info config.Info) {
	if info.Path == "" {
		return
	}
	if info.Exists {
		_, _ = fmt.Fprintf(w, "- %s\n", info.Path)
	} else {
		_, _ = fmt.Fprintf(w, "- %s (not found)\n", info.Path)
	}
}

// formatEffectiveConfig writes cfg as TOML, with derived runtime values filled in.
func formatEffectiveConfig(w io.Writer, cfg *domain.Config) error {
	effective := *cfg
	effective.Runtime.URL = cfg.Runtime.BaseURL()
	effective.Runtime.Timeout = cfg.Runtime.TimeoutDuration().String()
	deleteBranch := cfg.Worktree.ShouldDeleteBranch()
	effective.Worktree.DeleteBranch = &deleteBranch

	if err := toml.NewEncoder(w).Encode(effective); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// newConfigTemplateCommand creates the config template subcommand.
func newConfigTemplateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Output configuration template",
		Long: `Output a configuration file template to stdout.

The template shows the built-in defaults and does not depend on existing
configuration files, so it works even if they are broken.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), config.RenderTemplate(domain.NewDefaultConfig()))
			return nil
		},
	}
}

// newConfigInitCommand creates the config init subcommand.
func newConfigInitCommand(c *app.Container) *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate configuration file template",
		Long: `Generate a configuration file template.

By default, creates .ikanban.toml in the registered project containing the
current directory. With --global, creates the global configuration file at
~/.config/ikanban/config.toml.

Error conditions:
- Target file already exists: error`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				path string
				err  error
			)
			if global {
				path, err = c.ConfigManager.InitGlobalConfig()
			} else {
				if c.Project == nil {
					return errors.New("not inside a registered project (use --global or 'ikanban project add')")
				}
				path, err = c.ConfigManager.InitProjectConfig(c.Project.RootDirectory)
			}
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Generate global configuration")

	return cmd
}
