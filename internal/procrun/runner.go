// Package procrun executes external lifecycle commands for the daemon.
//
// All cluster tooling (kind, kubectl, helm, git, container runtimes) is driven
// through this package. Commands are always bound to a caller-supplied context so
// a cancellation or timeout terminates the underlying process promptly. Stdout and
// stderr are captured separately, and a non-zero exit is returned as data rather
// than as an error: callers classify failures themselves (for example, "not found"
// on a delete is not fatal).
//
// Every invocation logs the command line and its captured output. This is for
// operator diagnosis only and never drives control flow.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Spec describes one external command invocation.
type Spec struct {
	// Command is the executable to run.
	Command string

	// Args are passed to the command verbatim.
	Args []string

	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string

	// Dir is the working directory for the command. Empty means the daemon's
	// working directory.
	Dir string
}

// ShellSpec builds a Spec that runs cmdline through "bash -c" with the given
// KEY=VALUE pairs prefixed onto the command line. Running through bash ensures
// proper environment handling and resource limits when the daemon itself runs
// under systemd or cgroup constraints, which is how the kind tooling is invoked.
func ShellSpec(cmdline string, env ...string) Spec {
	if len(env) > 0 {
		cmdline = strings.Join(env, " ") + " " + cmdline
	}
	return Spec{
		Command: "bash",
		Args:    []string{"-c", cmdline},
	}
}

// Result holds the captured outcome of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr, for callers that only need
// human-readable diagnostics.
func (r Result) Combined() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes external commands. The daemon uses ExecRunner; tests substitute
// fakes to script tool behavior.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner runs commands with os/exec.
//
// The returned error is non-nil only when the process could not be started or the
// context was cancelled before it finished. A process that ran and exited non-zero
// yields a nil error and Result.ExitCode != 0.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() ExecRunner {
	return ExecRunner{}
}

// Run executes the spec and captures stdout and stderr separately.
func (ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	cmdline := spec.Command
	if len(spec.Args) > 0 {
		cmdline += " " + strings.Join(spec.Args, " ")
	}
	log.Printf("Executing: %s", cmdline)

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Dir = spec.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	logOutput(spec.Command, result)

	if err == nil {
		return result, nil
	}

	// Context cancellation kills the process, which surfaces as an exit error.
	// Report the cancellation instead so callers see it distinctly.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("command %q cancelled: %w", cmdline, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	// Spawn failure: command not found, permission denied, etc.
	return result, fmt.Errorf("failed to run %q: %w", cmdline, err)
}

// logOutput writes the captured streams to the daemon log, tagged with the
// command name for operator diagnosis.
func logOutput(command string, result Result) {
	if result.Stdout != "" {
		log.Printf("%s stdout:\n%s", command, result.Stdout)
	}
	if result.Stderr != "" {
		log.Printf("%s stderr:\n%s", command, result.Stderr)
	}
}
