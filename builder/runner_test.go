package builder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// fakeRunner records the command lines the pipeline would execute and lets
// tests inject failures and canned outputs instead of touching the host.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	failOn   string            // commands starting with this prefix fail
	outputs  map[string]string // Output results, keyed by command name
	onRun    func(name string, args []string) error
}

func (r *fakeRunner) record(line string) error {
	r.mu.Lock()
	r.commands = append(r.commands, line)
	r.mu.Unlock()
	if r.failOn != "" && strings.HasPrefix(line, r.failOn) {
		return fmt.Errorf("injected failure for %q", line)
	}
	return nil
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	if err := r.record(commandLine(name, args)); err != nil {
		return err
	}
	if r.onRun != nil {
		return r.onRun(name, args)
	}
	return nil
}

func (r *fakeRunner) RunInput(ctx context.Context, _ string, name string, args ...string) error {
	return r.Run(ctx, name, args...)
}

func (r *fakeRunner) Output(_ context.Context, name string, args ...string) (string, error) {
	if err := r.record(commandLine(name, args)); err != nil {
		return "", err
	}
	return r.outputs[name], nil
}

func (r *fakeRunner) RunStreamed(ctx context.Context, name string, args ...string) error {
	return r.Run(ctx, name, args...)
}

func (r *fakeRunner) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *fakeRunner) count(substr string) int {
	n := 0
	for _, c := range r.recorded() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// rsyncToCopy emulates the rsync overlay copies with a plain tree copy so
// overlay tests can assert on destination contents.
func rsyncToCopy(name string, args []string) error {
	if name != "rsync" {
		return nil
	}
	src := strings.TrimSuffix(args[len(args)-2], string(os.PathSeparator))
	dst := strings.TrimSuffix(args[len(args)-1], string(os.PathSeparator))
	return os.CopyFS(dst, os.DirFS(src))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
