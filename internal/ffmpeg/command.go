package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Command is a fully specified external tool invocation. Success means the
// process exited with status 0 and Output (when set) exists afterwards.
type Command struct {
	Name   string // what the command does, e.g. "extract frames"
	Path   string
	Args   []string
	Output string // expected output: a file path or a glob
}

func (c Command) String() string {
	return c.Path + " " + strings.Join(c.Args, " ")
}

// CommandError is returned when a Command exits non-zero or cannot start.
type CommandError struct {
	Name     string
	Path     string
	Args     []string
	ExitCode int // -1 when the process did not run to completion
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s exited with code %d", e.Name, e.Path, e.ExitCode)
	if e.Err != nil && e.ExitCode < 0 {
		msg = fmt.Sprintf("%s: %s: %v", e.Name, e.Path, e.Err)
	}
	if tail := lastLines(e.Output, 5); tail != "" {
		msg += "\nOutput: " + tail
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes a Command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands as child processes. Cancelling ctx kills the process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if err == nil {
		return buf.Bytes(), nil
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(err, ctxErr)
	}
	return buf.Bytes(), &CommandError{
		Name:     c.Name,
		Path:     c.Path,
		Args:     c.Args,
		ExitCode: code,
		Output:   buf.String(),
		Err:      err,
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
