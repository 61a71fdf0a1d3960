package builder

import "sync"

// cleanupStack collects best-effort teardown actions (unmounts, loop
// detach) and runs them in reverse registration order. Every action runs
// at most once, whether triggered by the normal teardown points, an error
// unwinding the pipeline, or a signal handler; actions ignore their own
// failures.
type cleanupStack struct {
	mu  sync.Mutex
	fns []func()
}

func (s *cleanupStack) push(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// mark returns the current stack depth for a later runFrom.
func (s *cleanupStack) mark() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// runFrom executes and discards all actions registered at or above depth,
// newest first. Used to release the mounts while the loop device below
// them stays attached.
func (s *cleanupStack) runFrom(depth int) {
	s.mu.Lock()
	if depth < 0 || depth > len(s.fns) {
		depth = len(s.fns)
	}
	fns := s.fns[depth:]
	s.fns = s.fns[:depth]
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// run executes and discards every registered action, newest first.
// Subsequent calls are no-ops for actions that already ran.
func (s *cleanupStack) run() {
	s.runFrom(0)
}
