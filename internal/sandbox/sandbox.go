package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Result captures output of a sandboxed command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Runner executes commands in an isolated environment. Implementations
// should keep untrusted code away from the host.
type Runner interface {
	// RunCmd runs a command with the given working directory and timeout
	// (<=0 uses the configured default).
	RunCmd(ctx context.Context, workDir, name string, args []string, timeout time.Duration) (Result, error)
}

// RunPython writes a snippet to a scratch directory and executes it with the
// given runner. The scratch directory is removed afterwards.
func RunPython(ctx context.Context, runner Runner, code string, timeout time.Duration) (Result, error) {
	scratch, err := os.MkdirTemp("", "pyexec-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	script := filepath.Join(scratch, "main.py")
	if err := os.WriteFile(script, []byte(code), 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write snippet: %w", err)
	}

	return runner.RunCmd(ctx, scratch, "python3", []string{"main.py"}, timeout)
}
