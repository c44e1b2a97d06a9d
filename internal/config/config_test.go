package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if time.Duration(cfg.Runner.GraceWindow) != 500*time.Millisecond {
		t.Errorf("GraceWindow = %v, want 500ms", time.Duration(cfg.Runner.GraceWindow))
	}
	if time.Duration(cfg.Runner.KillTimeout) != 2*time.Second {
		t.Errorf("KillTimeout = %v, want 2s", time.Duration(cfg.Runner.KillTimeout))
	}
	if cfg.Runner.Jobs != 1 {
		t.Errorf("Jobs = %d, want 1", cfg.Runner.Jobs)
	}
	if !cfg.Store.Enabled {
		t.Error("run history should be enabled by default")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runner.Jobs != 1 {
		t.Errorf("Jobs = %d, want default 1", cfg.Runner.Jobs)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[runner]
grace_window = "250ms"
kill_timeout = "5s"
no_fork = true
debug = true

[behavior]
capture_images = true
use_separate_cleanup_execution = true
dump_dir = "/tmp/dumps"

[store]
enabled = false
database_path = "/test/runs.db"

[tests]
patterns = ["gpu.*", "io.read*"]

[notifications]
desktop = true
slack_webhook = "https://hooks.example.com/T000"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if time.Duration(cfg.Runner.GraceWindow) != 250*time.Millisecond {
		t.Errorf("GraceWindow = %v, want 250ms", time.Duration(cfg.Runner.GraceWindow))
	}
	if time.Duration(cfg.Runner.KillTimeout) != 5*time.Second {
		t.Errorf("KillTimeout = %v, want 5s", time.Duration(cfg.Runner.KillTimeout))
	}
	// Untouched keys keep their defaults.
	if time.Duration(cfg.Runner.PollInterval) != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", time.Duration(cfg.Runner.PollInterval))
	}
	if !cfg.Runner.NoFork || !cfg.Runner.Debug {
		t.Errorf("Runner = %+v, want no_fork and debug set", cfg.Runner)
	}
	if !cfg.Behavior.CaptureImages || !cfg.Behavior.UseSeparateCleanupExecution {
		t.Errorf("Behavior = %+v", cfg.Behavior)
	}
	if cfg.Behavior.DumpDir != "/tmp/dumps" {
		t.Errorf("DumpDir = %q, want /tmp/dumps", cfg.Behavior.DumpDir)
	}
	if cfg.Store.Enabled || cfg.Store.DatabasePath != "/test/runs.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if len(cfg.Tests.Patterns) != 2 || cfg.Tests.Patterns[1] != "io.read*" {
		t.Errorf("Patterns = %v", cfg.Tests.Patterns)
	}
	if !cfg.Notifications.Desktop || cfg.Notifications.SlackWebhook == "" {
		t.Errorf("Notifications = %+v", cfg.Notifications)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[runner]\ngrace_window = \"soon\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("Load() accepted an invalid duration")
	}
}

func TestSupervisorConfig(t *testing.T) {
	cfg := Default()
	cfg.Runner.NoFork = true
	cfg.Behavior.SkipCleanupPhase = true

	sc := cfg.Supervisor()
	if !sc.NoFork || !sc.Flags.SkipCleanupPhase {
		t.Errorf("Supervisor() = %+v", sc)
	}
	if sc.GraceWindow != 500*time.Millisecond {
		t.Errorf("GraceWindow = %v, want 500ms", sc.GraceWindow)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[runner]\nno_fork = true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Chdir(subdir)

	found := FindLocalConfig()
	if found != localConfig {
		t.Errorf("FindLocalConfig() = %q, want %q", found, localConfig)
	}

	cfg, err := LoadWithLocalFallback("")
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Runner.NoFork {
		t.Error("local config was not loaded")
	}
}

func TestLoadWithLocalFallback_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	explicitPath := filepath.Join(dir, "explicit.toml")
	if err := os.WriteFile(explicitPath, []byte("[runner]\njobs = 1\nverbose = true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithLocalFallback(explicitPath)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Runner.Verbose {
		t.Error("explicit config was not loaded")
	}
}

func TestLoad_Schedules(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[[schedule]]
name = "nightly"
cron = "0 22 * * *"
patterns = ["**"]
max_duration = "4h"

[[schedule]]
name = "smoke"
cron = "*/30 * * * *"
testlist = "~/smoke.yaml"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	jobs := cfg.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("Jobs() count = %d, want 2", len(jobs))
	}
	if jobs[0].Name != "nightly" || jobs[0].MaxDuration != 4*time.Hour {
		t.Errorf("jobs[0] = %+v", jobs[0])
	}
	home, _ := os.UserHomeDir()
	if jobs[1].TestList != filepath.Join(home, "smoke.yaml") {
		t.Errorf("jobs[1].TestList = %q, want expanded path", jobs[1].TestList)
	}
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			t.Errorf("%s: %v", job.Name, err)
		}
	}
}
