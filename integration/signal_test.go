//go:build integration

package integration

import (
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func startRun(t *testing.T, args ...string) (*exec.Cmd, *lineWatcher) {
	t.Helper()
	binary := binaryPath(t)
	configPath, _ := createTestConfig(t)

	cmd := exec.Command(binary, append([]string{"run", "--config", configPath, "--no-history"}, args...)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cmd.Process.Kill() })
	return cmd, watchLines(stdout)
}

// TestCLI_SingleInterrupt kills the hanging test and continues the run.
func TestCLI_SingleInterrupt(t *testing.T) {
	cmd, out := startRun(t, "self.hang", "self.cleanup-fail")

	out.waitFor(t, "start  : self.hang", 10*time.Second)
	time.Sleep(200 * time.Millisecond)
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatal(err)
	}

	<-out.done
	err := cmd.Wait()
	output := out.output()
	if code := exitCode(err); code != 1 {
		t.Errorf("exit code = %d, want 1\n%s", code, output)
	}
	for _, want := range []string{"lost   : self.hang", "fail   : self.cleanup-fail", "lost 1"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, output)
		}
	}
}

// TestCLI_DoubleInterrupt stops the run inside the grace window.
func TestCLI_DoubleInterrupt(t *testing.T) {
	cmd, out := startRun(t, "--grace-window", "3s", "self.hang", "self.cleanup-fail")

	out.waitFor(t, "start  : self.hang", 10*time.Second)
	cmd.Process.Signal(os.Interrupt)
	out.waitFor(t, "interrupt again", 5*time.Second)
	cmd.Process.Signal(os.Interrupt)

	<-out.done
	err := cmd.Wait()
	output := out.output()
	if code := exitCode(err); code != 1 {
		t.Errorf("exit code = %d, want 1\n%s", code, output)
	}
	if !strings.Contains(output, "stopping the run") || !strings.Contains(output, "lost 2") {
		t.Errorf("Expected an aborted run with 2 lost, got:\n%s", output)
	}
	if strings.Contains(output, "start  : self.cleanup-fail") {
		t.Errorf("run continued after the second interrupt:\n%s", output)
	}
}
