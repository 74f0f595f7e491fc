package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanban/ikanban/internal/domain"
)

func writeGlobal(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain.ConfigFileName), []byte(content), 0644))
}

func writeProject(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(domain.ProjectConfigPath(dir), []byte(content), 0644))
}

func TestLoader_Load_Defaults(t *testing.T) {
	loader := NewLoaderWithGlobalDir(t.TempDir())

	cfg, err := loader.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, domain.NewDefaultConfig(), cfg)
	assert.Equal(t, "http://127.0.0.1:4096", cfg.Runtime.BaseURL())
	assert.Equal(t, domain.DefaultRuntimeTimeout, cfg.Runtime.TimeoutDuration())
	assert.True(t, cfg.Worktree.ShouldDeleteBranch())
}

func TestLoader_Load_GlobalConfigOnly(t *testing.T) {
	globalDir := t.TempDir()
	writeGlobal(t, globalDir, `
[runtime]
hostname = "localhost"
port = 5050
timeout = "30s"
model = "anthropic/claude-sonnet-4"

[worktree]
start_command = "npm ci"
delete_branch = false
`)

	cfg, err := NewLoaderWithGlobalDir(globalDir).Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5050", cfg.Runtime.BaseURL())
	assert.Equal(t, 30*time.Second, cfg.Runtime.TimeoutDuration())
	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.Runtime.Model)
	assert.Equal(t, "npm ci", cfg.Worktree.StartCommand)
	assert.False(t, cfg.Worktree.ShouldDeleteBranch())
	assert.Equal(t, "keep", cfg.Worktree.CleanupPolicy)
}

func TestLoader_Load_ProjectOverridesGlobal(t *testing.T) {
	globalDir := t.TempDir()
	projectDir := t.TempDir()
	writeGlobal(t, globalDir, `
[runtime]
url = "http://global:4096"

[worktree]
start_command = "make deps"
delete_branch = false

[log]
level = "warn"
`)
	writeProject(t, projectDir, `
[worktree]
cleanup_policy = "remove"
delete_branch = true

[merge]
message = "squash {{.TaskID}}"

[log]
level = "debug"
`)

	cfg, err := NewLoaderWithGlobalDir(globalDir).Load(projectDir)
	require.NoError(t, err)

	// Global values survive where the project is silent
	assert.Equal(t, "http://global:4096", cfg.Runtime.BaseURL())
	assert.Equal(t, "make deps", cfg.Worktree.StartCommand)
	// Project wins where both set a value
	assert.Equal(t, "remove", cfg.Worktree.CleanupPolicy)
	assert.True(t, cfg.Worktree.ShouldDeleteBranch())
	assert.Equal(t, "squash {{.TaskID}}", cfg.Merge.Message)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_Load_UnknownKeysBecomeWarnings(t *testing.T) {
	globalDir := t.TempDir()
	writeGlobal(t, globalDir, `
verbose = true

[runtime]
proxy = "x"

[agents]
default = "claude"
`)

	cfg, err := NewLoaderWithGlobalDir(globalDir).Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"unknown key in [runtime]: proxy",
		"unknown key: verbose",
		"unknown section: agents",
	}, cfg.Warnings)
}

func TestLoader_Load_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"cleanup policy", "[worktree]\ncleanup_policy = \"shred\"\n"},
		{"model", "[runtime]\nmodel = \"no-slash\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			globalDir := t.TempDir()
			writeGlobal(t, globalDir, tt.content)

			_, err := NewLoaderWithGlobalDir(globalDir).Load("")
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestLoader_Load_InvalidTOML(t *testing.T) {
	projectDir := t.TempDir()
	writeProject(t, projectDir, "[worktree\n")

	_, err := NewLoaderWithGlobalDir(t.TempDir()).Load(projectDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ProjectConfigFileName)
}

func TestLoader_LoadGlobal_NoDir(t *testing.T) {
	_, err := NewLoaderWithGlobalDir("").LoadGlobal()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultGlobalConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/ikanban", DefaultGlobalConfigDir())
}
