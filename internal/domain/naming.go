package domain

import (
	"fmt"
	"path/filepath"
	"time"
)

// WorktreesDirName is the directory under a project root holding task worktrees.
const WorktreesDirName = ".worktrees"

// ConfigFileName is the name of the global configuration file.
const ConfigFileName = "config.toml"

// ProjectConfigFileName is the name of the per-project configuration file.
const ProjectConfigFileName = ".ikanban.toml"

// BuildTaskWorktreeName returns the deterministic worktree name for a task.
// Format: task-<id>-<unix ms>
func BuildTaskWorktreeName(taskID string, ts time.Time) (string, error) {
	id, err := NormalizeTaskID(taskID)
	if err != nil {
		return "", err
	}
	ts, err = NormalizeTimestamp(ts, ts)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("task-%s-%d", id, ts.UnixMilli()), nil
}

// WorktreeBranchName returns the branch used for a worktree name.
// Format: ikanban/<name>
func WorktreeBranchName(name string) string {
	return "ikanban/" + name
}

// WorktreePath returns the path to a worktree inside a project.
func WorktreePath(projectDir, name string) string {
	return filepath.Join(projectDir, WorktreesDirName, name)
}

// TaskLogPath returns the path to the task log file.
func TaskLogPath(dataDir, taskID string) string {
	return filepath.Join(dataDir, "logs", fmt.Sprintf("task-%s.log", taskID))
}

// GlobalLogPath returns the path to the global log file.
func GlobalLogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "ikanban.log")
}

// ProjectsStorePath returns the path to the projects.json registry.
func ProjectsStorePath(dataDir string) string {
	return filepath.Join(dataDir, "projects.json")
}

// EventLogPath returns the path to the event journal database.
func EventLogPath(dataDir string) string {
	return filepath.Join(dataDir, "events.db")
}

// ProjectConfigPath returns the path to a project's configuration override.
func ProjectConfigPath(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigFileName)
}
