package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/sandbox"
)

func runPythonImpl(ctx context.Context, runner sandbox.Runner, code string) (string, error) {
	res, err := sandbox.RunPython(ctx, runner, code, 60*time.Second)
	if err != nil && !res.TimedOut && res.Stdout == "" && res.Stderr == "" {
		return "", fmt.Errorf("python execution failed: %w", err)
	}

	out, jerr := json.Marshal(map[string]any{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.Code,
		"timed_out": res.TimedOut,
	})
	if jerr != nil {
		return "", jerr
	}
	return string(out), nil
}

// NewRunPythonTool creates a tool that executes a Python snippet in the
// sandbox. Snippets may have side effects, so failed calls are not retried.
func NewRunPythonTool(runner sandbox.Runner) engine.Tool {
	return engine.Tool{
		Name:        "run_python",
		Description: "Execute a short Python 3 snippet in an isolated sandbox and return its stdout, stderr, and exit code. Print what you want to see.",
		SchemaJSON:  `{"type":"object","properties":{"code":{"type":"string","description":"Python 3 source to execute"}},"required":["code"]}`,
		Retryable:   false,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			code, ok := args["code"].(string)
			if !ok || code == "" {
				return "", fmt.Errorf("code must be a non-empty string")
			}
			return runPythonImpl(ctx, runner, code)
		},
	}
}
