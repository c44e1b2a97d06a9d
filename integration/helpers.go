//go:build integration

package integration

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// binaryPath builds the crucible binary once per test binary
func binaryPath(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "crucible-integration-*")
		if err != nil {
			buildErr = err
			return
		}
		builtBinary = filepath.Join(dir, "crucible")
		cmd := exec.Command("go", "build", "-o", builtBinary, "../cmd/crucible")
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = &buildFailure{err: err, out: string(out)}
		}
	})
	if buildErr != nil {
		t.Fatalf("Failed to build binary: %v", buildErr)
	}
	return builtBinary
}

var (
	buildOnce   sync.Once
	builtBinary string
	buildErr    error
)

type buildFailure struct {
	err error
	out string
}

func (b *buildFailure) Error() string { return b.err.Error() + "\n" + b.out }

// createTestConfig writes a config with history in a temp dir and short
// interrupt timings.
func createTestConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.toml")
	dbPath = filepath.Join(dir, "runs.db")

	config := `[runner]
grace_window = "300ms"
kill_timeout = "1s"

[store]
enabled = true
database_path = "` + dbPath + `"

[notifications]
desktop = false
`
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath, dbPath
}

// exitCode returns the process exit code of a finished command error
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// lineWatcher collects the output of a running command and lets a test wait
// for a line to appear.
type lineWatcher struct {
	mu    sync.Mutex
	lines []string
	seen  chan string
	done  chan struct{}
}

func watchLines(r io.Reader) *lineWatcher {
	w := &lineWatcher{seen: make(chan string, 256), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			w.mu.Lock()
			w.lines = append(w.lines, sc.Text())
			w.mu.Unlock()
			select {
			case w.seen <- sc.Text():
			default:
			}
		}
	}()
	return w
}

func (w *lineWatcher) waitFor(t *testing.T, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case line := <-w.seen:
			if strings.Contains(line, substr) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q; output so far:\n%s", substr, w.output())
		}
	}
}

func (w *lineWatcher) output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.lines, "\n")
}
