package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner executes external commands on the host and returns their stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError is returned when a command runs but exits non-zero. Output is
// the command's stderr, or its stdout when stderr was empty.
type CommandError struct {
	Command  string
	Output   []byte
	ExitCode int
}

func (c *CommandError) Error() string {
	out := strings.TrimSpace(string(c.Output))
	if out == "" {
		return fmt.Sprintf("`%s` exited with status %d", c.Command, c.ExitCode)
	}
	return fmt.Sprintf("`%s` exited with status %d: %s", c.Command, c.ExitCode, out)
}

// ExitCode returns the exit status carried by err, 0 for nil, or -1 when the
// command could not be run at all.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	ce := &CommandError{}
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Log logrus.FieldLogger
}

func (e *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	if e.Log != nil {
		e.Log.WithField("cmd", line).Debug("running command")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	ee := &exec.ExitError{}
	if errors.As(err, &ee) {
		out := stderr.Bytes()
		if len(bytes.TrimSpace(out)) == 0 {
			out = stdout.Bytes()
		}
		return stdout.Bytes(), &CommandError{Command: line, Output: out, ExitCode: ee.ExitCode()}
	}
	return nil, fmt.Errorf("running `%s`: %w", line, err)
}
