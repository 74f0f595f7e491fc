package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/eventbus"
	"github.com/ikanban/ikanban/internal/testutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // default
		{"", slog.LevelInfo},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLogger_Info(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)
	defer func() { _ = logger.Close() }()

	logger.Info("abc", "orchestrator", "test message")

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[INFO]")
	assert.Contains(t, string(content), "[task-abc]")
	assert.Contains(t, string(content), "[orchestrator]")
	assert.Contains(t, string(content), "test message")

	taskContent, err := os.ReadFile(domain.TaskLogPath(dataDir, "abc"))
	require.NoError(t, err)
	assert.Equal(t, string(content), string(taskContent))
}

func TestLogger_GlobalLogOnly(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)
	defer func() { _ = logger.Close() }()

	logger.Info("", "cli", "global message")

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[global]")
	assert.Contains(t, string(content), "global message")

	entries, err := os.ReadDir(filepath.Join(dataDir, "logs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLogger_LevelFiltering(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelWarn)
	defer func() { _ = logger.Close() }()

	logger.Debug("t1", "task", "debug message")
	logger.Info("t1", "task", "info message")
	logger.Warn("t1", "task", "warn message")
	logger.Error("t1", "task", "error message")

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "debug message")
	assert.NotContains(t, string(content), "info message")
	assert.Contains(t, string(content), "[WARN]")
	assert.Contains(t, string(content), "[ERROR]")
}

func TestLogger_DisabledWhenEmptyDataDir(t *testing.T) {
	logger := New("", slog.LevelDebug)
	defer func() { _ = logger.Close() }()

	// Should not panic or touch the filesystem
	logger.Info("t1", "task", "test message")
	logger.Error("t1", "task", "error message")
}

func TestLogger_LogFormat(t *testing.T) {
	dataDir := t.TempDir()
	clock := &testutil.MockClock{NowTime: time.Date(2025, 12, 30, 9, 32, 51, 0, time.Local)}
	logger := New(dataDir, slog.LevelInfo).WithClock(clock)
	defer func() { _ = logger.Close() }()

	logger.Info("abc_42", "worktree", `worktree created: "task-abc_42-1"`)

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, `[2025-12-30 09:32:51] [INFO] [task-abc_42] [worktree] worktree created: "task-abc_42-1"`, lines[0])
}

func TestLogger_MultipleTaskFiles(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)
	defer func() { _ = logger.Close() }()

	logger.Info("t1", "task", "message for task 1")
	logger.Info("t2", "task", "message for task 2")
	logger.Info("t1", "task", "another message for task 1")

	globalContent, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(globalContent), "\n"))

	task1Content, err := os.ReadFile(domain.TaskLogPath(dataDir, "t1"))
	require.NoError(t, err)
	assert.Contains(t, string(task1Content), "another message for task 1")
	assert.NotContains(t, string(task1Content), "message for task 2")

	task2Content, err := os.ReadFile(domain.TaskLogPath(dataDir, "t2"))
	require.NoError(t, err)
	assert.NotContains(t, string(task2Content), "message for task 1")
}

func TestLogger_CloseAndReopen(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)

	logger.Info("t1", "task", "first")
	require.NoError(t, logger.Close())
	assert.FileExists(t, domain.TaskLogPath(dataDir, "t1"))

	// Writing after Close reopens the files
	logger.Info("t1", "task", "second")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(domain.TaskLogPath(dataDir, "t1"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "first")
	assert.Contains(t, string(content), "second")
}

// =============================================================================
// AttachBus
// =============================================================================

func TestAttachBus_PersistsProjectedLines(t *testing.T) {
	bus := eventbus.New(nil)
	logger := &testutil.MockLogger{}
	detach := AttachBus(bus, logger)

	bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "t1", State: domain.TaskStateQueued})
	bus.Emit(domain.EventTaskFailed, domain.EventPayload{TaskID: "t1", Error: "boom"})
	bus.Emit(domain.EventLogAppended, domain.EventPayload{Level: domain.LogWarn, Source: "cli", Message: "careful"})

	detach()
	bus.Emit(domain.EventTaskCompleted, domain.EventPayload{TaskID: "t1"})

	require.Len(t, logger.Lines, 3)
	assert.Equal(t, testutil.LogLine{Level: "INFO", TaskID: "t1", Category: "orchestrator", Msg: "Task t1 created in state queued."}, logger.Lines[0])
	assert.Equal(t, "ERROR", logger.Lines[1].Level)
	assert.Equal(t, "Task t1 failed: boom", logger.Lines[1].Msg)
	assert.Equal(t, testutil.LogLine{Level: "WARN", Category: "cli", Msg: "careful"}, logger.Lines[2])
}
