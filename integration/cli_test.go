//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestCLI_Help(t *testing.T) {
	binary := binaryPath(t)

	out, err := exec.Command(binary, "--help").CombinedOutput()
	if err != nil {
		t.Fatalf("--help failed: %v\n%s", err, out)
	}
	for _, sub := range []string{"run", "ls", "history", "schedule"} {
		if !strings.Contains(string(out), sub) {
			t.Errorf("Expected subcommand %q in help, got: %s", sub, out)
		}
	}
}

func TestCLI_Ls(t *testing.T) {
	binary := binaryPath(t)
	configPath, _ := createTestConfig(t)

	out, err := exec.Command(binary, "ls", "--config", configPath).CombinedOutput()
	if err != nil {
		t.Fatalf("ls failed: %v\n%s", err, out)
	}
	output := string(out)
	if !strings.Contains(output, "func.channel.roundtrip") {
		t.Errorf("Expected normal tests in output, got: %s", output)
	}
	if strings.Contains(output, "self.crash") {
		t.Errorf("self tests listed without --all: %s", output)
	}

	out, err = exec.Command(binary, "ls", "--config", configPath, "self.*").CombinedOutput()
	if err != nil {
		t.Fatalf("ls self.* failed: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "self.crash") {
		t.Errorf("Expected self.crash for self.*, got: %s", out)
	}
}

func TestCLI_RunNormalTests(t *testing.T) {
	binary := binaryPath(t)
	configPath, _ := createTestConfig(t)

	out, err := exec.Command(binary, "run", "--config", configPath).CombinedOutput()
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	output := string(out)
	if !strings.Contains(output, "pass 3") || !strings.Contains(output, "lost 0") {
		t.Errorf("Expected 3 passing tests, got: %s", output)
	}
}

// TestCLI_RunCrashIsolation runs tests that kill, abort and exit their
// worker; the run carries on and reports them as lost.
func TestCLI_RunCrashIsolation(t *testing.T) {
	binary := binaryPath(t)
	configPath, _ := createTestConfig(t)

	cmd := exec.Command(binary, "run", "--config", configPath, "--verbose",
		"self.pass", "self.crash", "self.abort", "self.exit", "self.fail", "self.skip-flag")
	out, err := cmd.CombinedOutput()
	if code := exitCode(err); code != 1 {
		t.Fatalf("exit code = %d, want 1\n%s", code, out)
	}

	output := string(out)
	for _, want := range []string{
		"ran 6 tests", "pass 1", "fail 1", "skip 1", "lost 3",
		"killed by SIGKILL", "exit status 3",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
}

func TestCLI_RunNoMatch(t *testing.T) {
	binary := binaryPath(t)
	configPath, _ := createTestConfig(t)

	out, err := exec.Command(binary, "run", "--config", configPath, "nothing.*").CombinedOutput()
	if err == nil {
		t.Fatalf("run with an unmatched glob succeeded:\n%s", out)
	}
	if !strings.Contains(string(out), "no tests match") {
		t.Errorf("Expected 'no tests match', got: %s", out)
	}
}

func TestCLI_HistoryAndSaveFailing(t *testing.T) {
	binary := binaryPath(t)
	configPath, _ := createTestConfig(t)
	failing := filepath.Join(t.TempDir(), "failing.yaml")

	run := exec.Command(binary, "run", "--config", configPath, "--save-failing", failing,
		"self.pass", "self.fail", "self.crash")
	if out, err := run.CombinedOutput(); exitCode(err) != 1 {
		t.Fatalf("run: %v\n%s", err, out)
	}

	data, err := os.ReadFile(failing)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "self.fail") || !strings.Contains(string(data), "self.crash") {
		t.Errorf("failing list = %s", data)
	}

	out, err := exec.Command(binary, "history", "--config", configPath).CombinedOutput()
	if err != nil {
		t.Fatalf("history failed: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "failed") {
		t.Errorf("Expected a failed run in history, got: %s", out)
	}

	// Re-run exactly the failing tests from the saved list.
	rerun := exec.Command(binary, "run", "--config", configPath, "--no-history", "--testlist", failing)
	out, _ = rerun.CombinedOutput()
	if !strings.Contains(string(out), "ran 2 tests") {
		t.Errorf("Expected 2 tests from the saved list, got: %s", out)
	}
}
