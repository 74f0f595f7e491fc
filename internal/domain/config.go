package domain

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

// Config represents the application configuration.
// Fields are ordered to minimize memory padding.
type Config struct {
	Warnings []string       `toml:"-"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Worktree WorktreeConfig `toml:"worktree"`
	Merge    MergeConfig    `toml:"merge"`
	Log      LogConfig      `toml:"log"`
}

// RuntimeConfig holds agent runtime settings from [runtime] section.
type RuntimeConfig struct {
	URL      string `toml:"url,omitempty"`      // Base URL of the agent runtime server
	Model    string `toml:"model,omitempty"`    // Default model as provider/model
	Timeout  string `toml:"timeout,omitempty"`  // HTTP timeout (Go duration)
	Hostname string `toml:"hostname,omitempty"` // Used to build URL when URL is empty
	Port     int    `toml:"port,omitempty"`
}

// TimeoutDuration parses Timeout, falling back to DefaultRuntimeTimeout.
func (r RuntimeConfig) TimeoutDuration() time.Duration {
	if r.Timeout == "" {
		return DefaultRuntimeTimeout
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return DefaultRuntimeTimeout
	}
	return d
}

// BaseURL returns URL, or one derived from Hostname/Port.
func (r RuntimeConfig) BaseURL() string {
	if r.URL != "" {
		return r.URL
	}
	host := r.Hostname
	if host == "" {
		host = DefaultRuntimeHostname
	}
	port := r.Port
	if port == 0 {
		port = DefaultRuntimePort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// WorktreeConfig holds settings from [worktree] section.
type WorktreeConfig struct {
	StartCommand  string `toml:"start_command,omitempty"`  // Run inside each new worktree
	CleanupPolicy string `toml:"cleanup_policy,omitempty"` // keep (default) or remove
	DeleteBranch  *bool  `toml:"delete_branch,omitempty"`  // Delete the branch when a worktree is removed
}

// ShouldDeleteBranch returns DeleteBranch, defaulting to true.
func (w WorktreeConfig) ShouldDeleteBranch() bool {
	return w.DeleteBranch == nil || *w.DeleteBranch
}

// MergeConfig holds settings from [merge] section.
type MergeConfig struct {
	Message string `toml:"message,omitempty"` // Commit message template for squash merges
}

// LogConfig holds logging settings from [log] section.
type LogConfig struct {
	Level string `toml:"level,omitempty"` // Log level: debug, info, warn, error
}

// Defaults.
const (
	DefaultRuntimeHostname = "127.0.0.1"
	DefaultRuntimePort     = 4096
	DefaultRuntimeTimeout  = 2 * time.Minute
	DefaultMergeMessage    = "ikanban: squash merge task {{.TaskID}} ({{.Branch}})"
	DefaultAutoCommit      = "ikanban: save pending changes of task {{.TaskID}}"
)

// NewDefaultConfig returns the built-in configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Worktree: WorktreeConfig{CleanupPolicy: string(CleanupKeep)},
		Merge:    MergeConfig{Message: DefaultMergeMessage},
		Log:      LogConfig{Level: "info"},
	}
}

// CommitMessageData is the data available to merge message templates.
type CommitMessageData struct {
	TaskID     string
	Branch     string
	BaseBranch string
}

// RenderCommitMessage expands a commit message template.
func RenderCommitMessage(tmpl string, data CommitMessageData) (string, error) {
	if tmpl == "" {
		tmpl = DefaultMergeMessage
	}
	t, err := template.New("commit").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse commit message template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render commit message: %w", err)
	}
	return buf.String(), nil
}

// AppName names the config and data directories.
const AppName = "ikanban"

// GlobalConfigDir returns the global config directory under configHome.
func GlobalConfigDir(configHome string) string {
	return filepath.Join(configHome, AppName)
}

// ParseModelRef parses "provider/model". Empty input yields nil.
func ParseModelRef(s string) (*ModelRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	provider, model, ok := strings.Cut(s, "/")
	if !ok || provider == "" || model == "" {
		return nil, fmt.Errorf("model %q must be provider/model: %w", s, ErrValidation)
	}
	return &ModelRef{ProviderID: provider, ModelID: model}, nil
}
