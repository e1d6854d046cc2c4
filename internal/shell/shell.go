// Package shell runs external collaborator commands with captured output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Result captures one command invocation.
type Result struct {
	Cmd      string // rendered command line, for logs
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes a command in a working directory. Implementations must be
// safe for concurrent use; one worker goroutine runs per in-flight phase.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) (Result, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// Run executes argv with dir as the working directory. A non-zero exit is
// reported through Result.ExitCode with a nil error; the error return is
// reserved for failures to launch or complete the process at all.
func (ExecRunner) Run(ctx context.Context, dir string, argv []string) (Result, error) {
	res := Result{Cmd: strings.Join(argv, " ")}
	if len(argv) == 0 {
		return res, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}
