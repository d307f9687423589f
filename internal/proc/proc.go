// Package proc runs the external media tools (yt-dlp, ffmpeg, sox) the
// pipeline shells out to.
package proc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes a command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExitError is returned when a command fails. Stderr holds the last few
// lines of the command's error output.
type ExitError struct {
	Name   string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return out, &ExitError{Name: name, Stderr: Tail(stderr.String(), 5), Err: err}
	}
	return out, nil
}

// Tail returns the last n non-empty lines of s joined by "; ".
func Tail(s string, n int) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}

var (
	availMu sync.Mutex
	avail   = map[string]bool{}
)

// Available reports whether name resolves in PATH. The result is cached per
// name for the life of the process.
func Available(name string) bool {
	availMu.Lock()
	defer availMu.Unlock()
	if ok, seen := avail[name]; seen {
		return ok
	}
	_, err := exec.LookPath(name)
	avail[name] = err == nil
	return err == nil
}
