// Package execrun shells out to the local test suite and captures the
// result for the compliance gate.
package execrun

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// MaxOutputBytes bounds how much combined output gets stored.
const MaxOutputBytes = 64 * 1024

// Result is one completed command invocation.
type Result struct {
	Command    string
	ExitCode   int
	DurationMS int64
	Output     string
}

// Run executes command via the shell in dir and waits for it. A nonzero
// exit is a Result, not an error; only failures to start return an error.
func Run(ctx context.Context, dir, command string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Command:    command,
		DurationMS: time.Since(start).Milliseconds(),
		Output:     truncate(buf.String(), MaxOutputBytes),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
