// Package executor runs external processes for the git and worktree backends.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/ikanban/ikanban/internal/domain"
)

// waitDelay bounds how long Run waits for output pipes after the context is done.
const waitDelay = 2 * time.Second

// Client implements domain.ProcessRunner using os/exec.
type Client struct{}

// NewClient creates a new process runner.
func NewClient() *Client {
	return &Client{}
}

// Ensure Client implements domain.ProcessRunner interface.
var _ domain.ProcessRunner = (*Client)(nil)

// Run executes the command, capturing stdout and stderr separately.
// A non-zero exit status is reported through ExecResult.ExitCode, not as an error.
func (c *Client) Run(ctx context.Context, cmd *domain.ExecCommand) (domain.ExecResult, error) {
	// #nosec G204 - cmd.Program and cmd.Args are built by the git and worktree backends
	execCmd := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	if cmd.Dir != "" {
		execCmd.Dir = cmd.Dir
	}

	execCmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	result := domain.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, err
	}
	return result, nil
}

// ShellCommand builds a command that runs script through sh -c in dir.
func ShellCommand(script, dir string) *domain.ExecCommand {
	return &domain.ExecCommand{
		Program: "sh",
		Args:    []string{"-c", script},
		Dir:     dir,
	}
}
