package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ikanban/ikanban/internal/domain"
)

// Info describes a config file on disk.
type Info struct {
	Path    string
	Content string
	Exists  bool
}

// Manager manages configuration files.
type Manager struct {
	globalConfDir string // Path to global config directory (e.g., ~/.config/ikanban)
}

// NewManager creates a new Manager using the default global config directory.
func NewManager() *Manager {
	return &Manager{globalConfDir: DefaultGlobalConfigDir()}
}

// NewManagerWithGlobalDir creates a new Manager with a custom global config directory.
// This is useful for testing.
func NewManagerWithGlobalDir(globalConfDir string) *Manager {
	return &Manager{globalConfDir: globalConfDir}
}

// GlobalDir returns the global config directory.
func (m *Manager) GlobalDir() string {
	return m.globalConfDir
}

// GetGlobalConfigInfo returns information about the global config file.
func (m *Manager) GetGlobalConfigInfo() Info {
	if m.globalConfDir == "" {
		return Info{}
	}
	return readInfo(filepath.Join(m.globalConfDir, domain.ConfigFileName))
}

// GetProjectConfigInfo returns information about a project override file.
func (m *Manager) GetProjectConfigInfo(projectDir string) Info {
	if projectDir == "" {
		return Info{}
	}
	return readInfo(domain.ProjectConfigPath(projectDir))
}

func readInfo(path string) Info {
	content, err := os.ReadFile(path)
	if err != nil {
		return Info{Path: path}
	}
	return Info{Path: path, Content: string(content), Exists: true}
}

// InitGlobalConfig writes the default template to the global config file.
func (m *Manager) InitGlobalConfig() (string, error) {
	if m.globalConfDir == "" {
		return "", errors.New("global config directory not available")
	}
	if err := os.MkdirAll(m.globalConfDir, 0700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	path := filepath.Join(m.globalConfDir, domain.ConfigFileName)
	return path, writeTemplate(path)
}

// InitProjectConfig writes the default template to a project override file.
func (m *Manager) InitProjectConfig(projectDir string) (string, error) {
	path := domain.ProjectConfigPath(projectDir)
	return path, writeTemplate(path)
}

func writeTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, domain.ErrConfigExists)
	}
	return os.WriteFile(path, []byte(RenderTemplate(domain.NewDefaultConfig())), 0600)
}

// RenderTemplate renders a commented config file showing cfg's values.
func RenderTemplate(cfg *domain.Config) string {
	var b strings.Builder
	b.WriteString("# ikanban configuration\n\n")

	b.WriteString("[runtime]\n")
	b.WriteString("# Agent runtime server; built from hostname/port when url is empty\n")
	fmt.Fprintf(&b, "# url = %q\n", cfg.Runtime.BaseURL())
	b.WriteString("# model = \"anthropic/claude-sonnet-4\"\n")
	fmt.Fprintf(&b, "# timeout = %q\n\n", cfg.Runtime.TimeoutDuration().String())

	b.WriteString("[worktree]\n")
	b.WriteString("# Command run inside every new worktree\n")
	b.WriteString("# start_command = \"npm install\"\n")
	fmt.Fprintf(&b, "cleanup_policy = %q\n", cfg.Worktree.CleanupPolicy)
	fmt.Fprintf(&b, "delete_branch = %t\n\n", cfg.Worktree.ShouldDeleteBranch())

	b.WriteString("[merge]\n")
	b.WriteString("# Template fields: {{.TaskID}} {{.Branch}} {{.BaseBranch}}\n")
	fmt.Fprintf(&b, "message = %q\n\n", cfg.Merge.Message)

	b.WriteString("[log]\n")
	fmt.Fprintf(&b, "level = %q\n", cfg.Log.Level)
	return b.String()
}
