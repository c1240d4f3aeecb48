// Package shell runs OS utilities (service managers, package tools, firewalls)
// behind a narrow seam so adapters can be exercised without a real host.
package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// Command is a single external invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// Env is merged on top of the current environment.
	Env map[string]string

	// Stream copies output to the runner's writers as it arrives, in addition
	// to capturing it. Used for long npm and extraction steps.
	Stream bool
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the captured output of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes commands. A non-zero exit is returned as *domain.ShellCommandError
// together with the partial Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *ExecRunner) {
		r.logger = logger
	}
}

// WithOutput sets the writers used for streamed commands.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *ExecRunner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes cmd and waits for it to finish.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	r.logger.Debug("executing command", "command", c.String(), "dir", c.Dir)

	// #nosec G204 -- commands are built by adapters from fixed utility names
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	if c.Stream {
		cmd.Stdout = io.MultiWriter(&stdout, r.stdout)
		cmd.Stderr = io.MultiWriter(&stderr, r.stderr)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	result := &Result{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	return result, &domain.ShellCommandError{
		Command:  c.String(),
		ExitCode: result.ExitCode,
		Output:   result.Combined(),
		Err:      err,
	}
}

// Ensure ExecRunner implements Runner.
var _ Runner = (*ExecRunner)(nil)
