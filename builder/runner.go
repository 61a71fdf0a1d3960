package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner abstracts execution of the host utilities the pipeline drives
// (sfdisk, losetup, mount, rsync, chroot, zerofree, ...). The default
// implementation shells out; tests record invocations instead.
type Runner interface {
	// Run executes the command and captures its combined output. The
	// output is included in the returned error on failure.
	Run(ctx context.Context, name string, args ...string) error

	// RunInput is Run with data piped to the command's stdin.
	RunInput(ctx context.Context, stdin string, name string, args ...string) error

	// Output executes the command and returns its trimmed stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)

	// RunStreamed executes the command with stdout/stderr attached to the
	// process's own streams. Used for long-running steps whose output the
	// operator wants to watch live (chroot provisioning).
	RunStreamed(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands on the host, logging each command line before
// executing it.
type ExecRunner struct {
	Log *slog.Logger
}

func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Log: logger}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	return r.run(ctx, "", name, args...)
}

func (r *ExecRunner) RunInput(ctx context.Context, stdin string, name string, args ...string) error {
	return r.run(ctx, stdin, name, args...)
}

func (r *ExecRunner) run(ctx context.Context, stdin string, name string, args ...string) error {
	r.Log.Debug("exec", slog.String("cmd", commandLine(name, args)))
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.Log.Debug("exec output", slog.String("cmd", name), slog.String("output", strings.TrimSpace(string(out))))
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", commandLine(name, args), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	r.Log.Debug("exec", slog.String("cmd", commandLine(name, args)))
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", commandLine(name, args), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *ExecRunner) RunStreamed(ctx context.Context, name string, args ...string) error {
	r.Log.Info("exec", slog.String("cmd", commandLine(name, args)))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", commandLine(name, args), err)
	}
	return nil
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
