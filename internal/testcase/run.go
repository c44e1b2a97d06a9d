package testcase

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Func is the body of a test
type Func func(t *T)

// T is the handle a test body uses to report its result and register cleanup.
type T struct {
	name  string
	flags BehaviorFlags

	mu       sync.Mutex
	failed   bool
	skipped  bool
	cleanups []func()
}

func newT(name string, flags BehaviorFlags) *T {
	return &T{name: name, flags: flags}
}

// Name returns the test name
func (t *T) Name() string { return t.name }

// Flags returns the behavior flags the test runs with
func (t *T) Flags() BehaviorFlags { return t.flags }

// Logf writes a diagnostic line tagged with the test name
func (t *T) Logf(format string, args ...any) {
	log.Printf("[%s] %s", t.name, fmt.Sprintf(format, args...))
}

// Fail marks the test failed and continues
func (t *T) Fail() {
	t.mu.Lock()
	t.failed = true
	t.mu.Unlock()
}

// Failed reports whether the test has been marked failed
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Failf logs and marks the test failed
func (t *T) Failf(format string, args ...any) {
	t.Logf(format, args...)
	t.Fail()
}

// FailNow marks the test failed and stops the test body. Like testing.T it
// must be called from the goroutine running the body.
func (t *T) FailNow() {
	t.Fail()
	runtime.Goexit()
}

// Fatalf is Failf followed by FailNow
func (t *T) Fatalf(format string, args ...any) {
	t.Logf(format, args...)
	t.FailNow()
}

// Skip marks the test skipped and stops the test body
func (t *T) Skip() {
	t.mu.Lock()
	t.skipped = true
	t.mu.Unlock()
	runtime.Goexit()
}

// Skipf logs a reason and skips the test
func (t *T) Skipf(format string, args ...any) {
	t.Logf(format, args...)
	t.Skip()
}

// Cleanup pushes fn onto the cleanup stack. The stack runs in LIFO order
// after the body returns, unless the cleanup phase is disabled.
func (t *T) Cleanup(fn func()) {
	t.mu.Lock()
	t.cleanups = append(t.cleanups, fn)
	t.mu.Unlock()
}

// Dump writes an image dump for the test. It is a no-op unless image
// capture is enabled.
func (t *T) Dump(name string, data []byte) error {
	if !t.flags.CaptureImages {
		return nil
	}

	dir := t.flags.DumpDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating dump dir: %w", err)
	}

	file := strings.ReplaceAll(t.name, "/", "_") + "." + name
	if err := os.WriteFile(filepath.Join(dir, file), data, 0644); err != nil {
		return fmt.Errorf("writing dump %s: %w", file, err)
	}
	return nil
}

func (t *T) outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.failed:
		return Fail
	case t.skipped:
		return Skip
	default:
		return Pass
	}
}

// Run executes one test body and returns its outcome. A panicking body or
// cleanup is recorded as a failure; a body that crashes the process takes the
// caller down with it, which is why the supervisor runs this in a worker.
func Run(name string, fn Func, flags BehaviorFlags) Outcome {
	if fn == nil {
		log.Printf("[testcase] %s has no body", name)
		return Fail
	}

	t := newT(name, flags)
	cleanup := !flags.SkipCleanupPhase
	runGuarded(t, "test", func() {
		if cleanup && !flags.UseSeparateCleanupExecution {
			defer t.runCleanups()
		}
		fn(t)
	})
	if cleanup && flags.UseSeparateCleanupExecution {
		runGuarded(t, "cleanup", t.runCleanups)
	}

	return t.outcome()
}

// runGuarded runs fn on its own goroutine so FailNow and Skip can unwind it.
func runGuarded(t *T, what string, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				t.Logf("%s panicked: %v\n%s", what, r, debug.Stack())
				t.Fail()
			}
		}()
		fn()
	}()
	<-done
}

func (t *T) runCleanups() {
	t.mu.Lock()
	stack := t.cleanups
	t.cleanups = nil
	t.mu.Unlock()

	for i := len(stack) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Logf("cleanup panicked: %v", r)
					t.Fail()
				}
			}()
			stack[i]()
		}()
	}
}
