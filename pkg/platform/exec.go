package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ExecResult is the outcome of one external command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CommandRunner runs external tools synchronously.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (*ExecResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds each command. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Run executes name with args and captures its output. A nonzero exit is
// reported through ExecResult.ExitCode; err is set only when the command
// could not be started or was killed by ctx.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*ExecResult, error) {
	if name == "" {
		return nil, fmt.Errorf("command is required")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", name, err)
	}
	return result, nil
}
