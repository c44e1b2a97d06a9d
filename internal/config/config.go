package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/crucible-runner/internal/schedule"
	"github.com/hochfrequenz/crucible-runner/internal/supervisor"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// LocalConfigName is looked up in the working directory and its parents
const LocalConfigName = ".crucible.toml"

// Config holds all application configuration
type Config struct {
	Runner   RunnerConfig           `toml:"runner"`
	Behavior testcase.BehaviorFlags `toml:"behavior"`
	Store    StoreConfig            `toml:"store"`
	Tests    TestsConfig            `toml:"tests"`

	Notifications NotificationsConfig `toml:"notifications"`
	Schedules     []ScheduleConfig    `toml:"schedule"`
}

// RunnerConfig holds supervisor settings
type RunnerConfig struct {
	GraceWindow  Duration `toml:"grace_window"`
	KillTimeout  Duration `toml:"kill_timeout"`
	PollInterval Duration `toml:"poll_interval"`
	NoFork       bool     `toml:"no_fork"`
	Jobs         int      `toml:"jobs"`
	Verbose      bool     `toml:"verbose"`
	Debug        bool     `toml:"debug"`
}

// StoreConfig holds run history settings
type StoreConfig struct {
	Enabled      bool   `toml:"enabled"`
	DatabasePath string `toml:"database_path"`
}

// TestsConfig selects tests when none are named on the command line
type TestsConfig struct {
	TestList string   `toml:"testlist"`
	Patterns []string `toml:"patterns"`
}

// NotificationsConfig holds end-of-run notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ScheduleConfig is one [[schedule]] entry
type ScheduleConfig struct {
	Name        string   `toml:"name"`
	Cron        string   `toml:"cron"`
	Patterns    []string `toml:"patterns"`
	TestList    string   `toml:"testlist"`
	MaxDuration Duration `toml:"max_duration"`
}

// Duration is a time.Duration written as "500ms" or "2s" in TOML
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	sup := supervisor.DefaultConfig()
	return &Config{
		Runner: RunnerConfig{
			GraceWindow:  Duration(sup.GraceWindow),
			KillTimeout:  Duration(sup.KillTimeout),
			PollInterval: Duration(sup.PollInterval),
			Jobs:         sup.Jobs,
		},
		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(home, ".crucible", "runs.db"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	cfg.Store.DatabasePath = ExpandPath(cfg.Store.DatabasePath)
	cfg.Tests.TestList = ExpandPath(cfg.Tests.TestList)
	cfg.Behavior.DumpDir = ExpandPath(cfg.Behavior.DumpDir)
	for i := range cfg.Schedules {
		cfg.Schedules[i].TestList = ExpandPath(cfg.Schedules[i].TestList)
	}

	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path if given, else the nearest
// local config, else the user config.
func LoadWithLocalFallback(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for
// LocalConfigName. It returns "" when there is none.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Supervisor converts the runner section into a supervisor configuration
func (c *Config) Supervisor() supervisor.Config {
	return supervisor.Config{
		Flags:        c.Behavior,
		GraceWindow:  time.Duration(c.Runner.GraceWindow),
		KillTimeout:  time.Duration(c.Runner.KillTimeout),
		PollInterval: time.Duration(c.Runner.PollInterval),
		NoFork:       c.Runner.NoFork,
		Jobs:         c.Runner.Jobs,
		Debug:        c.Runner.Debug,
	}
}

// Jobs converts the [[schedule]] entries into scheduler jobs
func (c *Config) Jobs() []schedule.Job {
	jobs := make([]schedule.Job, 0, len(c.Schedules))
	for _, sc := range c.Schedules {
		jobs = append(jobs, schedule.Job{
			Name:        sc.Name,
			Cron:        sc.Cron,
			Patterns:    sc.Patterns,
			TestList:    sc.TestList,
			MaxDuration: time.Duration(sc.MaxDuration),
		})
	}
	return jobs
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "crucible", "config.toml")
}
