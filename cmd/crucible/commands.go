package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/crucible-runner/internal/config"
	"github.com/hochfrequenz/crucible-runner/internal/notify"
	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/report"
	"github.com/hochfrequenz/crucible-runner/internal/runstore"
	"github.com/hochfrequenz/crucible-runner/internal/supervisor"
	"github.com/hochfrequenz/crucible-runner/internal/testlist"
)

var (
	runNoFork          bool
	runJobs            int
	runVerbose         bool
	runDebug           bool
	runGraceWindow     time.Duration
	runKillTimeout     time.Duration
	runCaptureImages   bool
	runDumpDir         string
	runSkipCleanup     bool
	runSeparateCleanup bool
	runAltShader       bool
	runTestList        string
	runNoHistory       bool
	runSaveFailing     string

	lsAll bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run [GLOB...]",
		Short: "Run tests",
		Long: `Run the tests matching the given globs, or every normal test when none
are given. example.* and self.* tests only match globs that start with
their prefix.`,
		RunE: runRun,
	}
	f := runCmd.Flags()
	f.BoolVar(&runNoFork, "no-fork", false, "run tests in this process without isolation")
	f.IntVarP(&runJobs, "jobs", "j", 1, "number of workers")
	f.BoolVarP(&runVerbose, "verbose", "v", false, "report worker lifecycle and timings")
	f.BoolVar(&runDebug, "debug", false, "log supervisor internals")
	f.DurationVar(&runGraceWindow, "grace-window", 0, "wait for a second interrupt this long")
	f.DurationVar(&runKillTimeout, "kill-timeout", 0, "SIGKILL workers that outlive SIGINT by this long")
	f.BoolVar(&runCaptureImages, "capture-images", false, "let tests dump images")
	f.StringVar(&runDumpDir, "dump-dir", "", "directory for image dumps")
	f.BoolVar(&runSkipCleanup, "skip-cleanup", false, "do not run test cleanup functions")
	f.BoolVar(&runSeparateCleanup, "separate-cleanup", false, "run cleanup functions apart from the test body")
	f.BoolVar(&runAltShader, "alt-shader-format", false, "prefer the alternate shader format")
	f.StringVar(&runTestList, "testlist", "", "YAML include/exclude list")
	f.BoolVar(&runNoHistory, "no-history", false, "do not record this run")
	f.StringVar(&runSaveFailing, "save-failing", "", "write failed and lost tests as a test list")
	rootCmd.AddCommand(runCmd)

	// ls command
	lsCmd := &cobra.Command{
		Use:   "ls [GLOB...]",
		Short: "List registered tests",
		RunE:  runLs,
	}
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "include example and self tests")
	rootCmd.AddCommand(lsCmd)
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

// applyRunFlags overrides config values with flags set on the command line
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("no-fork") {
		cfg.Runner.NoFork = runNoFork
	}
	if f.Changed("jobs") {
		cfg.Runner.Jobs = runJobs
	}
	if f.Changed("verbose") {
		cfg.Runner.Verbose = runVerbose
	}
	if f.Changed("debug") {
		cfg.Runner.Debug = runDebug
	}
	if f.Changed("grace-window") {
		cfg.Runner.GraceWindow = config.Duration(runGraceWindow)
	}
	if f.Changed("kill-timeout") {
		cfg.Runner.KillTimeout = config.Duration(runKillTimeout)
	}
	if f.Changed("capture-images") {
		cfg.Behavior.CaptureImages = runCaptureImages
	}
	if f.Changed("dump-dir") {
		cfg.Behavior.DumpDir = config.ExpandPath(runDumpDir)
	}
	if f.Changed("skip-cleanup") {
		cfg.Behavior.SkipCleanupPhase = runSkipCleanup
	}
	if f.Changed("separate-cleanup") {
		cfg.Behavior.UseSeparateCleanupExecution = runSeparateCleanup
	}
	if f.Changed("alt-shader-format") {
		cfg.Behavior.PreferAlternateShaderFormat = runAltShader
	}
	if f.Changed("testlist") {
		cfg.Tests.TestList = config.ExpandPath(runTestList)
	}
	if f.Changed("no-history") {
		cfg.Store.Enabled = !runNoHistory
	}
}

// selectTests enables the tests of this run: globs from the command line,
// else the configured test list, else the configured patterns, else every
// normal test.
func selectTests(reg *registry.Registry, cfg *config.Config, globs []string) error {
	switch {
	case len(globs) > 0:
		n, err := reg.EnableMatching(globs)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no tests match %s", strings.Join(globs, " "))
		}
	case cfg.Tests.TestList != "":
		l, err := testlist.Load(cfg.Tests.TestList)
		if err != nil {
			return err
		}
		if _, err := l.Apply(reg); err != nil {
			return err
		}
	case len(cfg.Tests.Patterns) > 0:
		if _, err := reg.EnableMatching(cfg.Tests.Patterns); err != nil {
			return err
		}
	default:
		reg.EnableAllNormal()
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	reg := registry.Default
	if err := selectTests(reg, cfg, args); err != nil {
		return err
	}

	totals, err := executeRun(cmd.Context(), cfg, reg, runOptions{
		watchSignals: true,
		saveFailing:  runSaveFailing,
	})
	if err != nil {
		return err
	}
	if !totals.OK() {
		return fmt.Errorf("%d failed, %d lost", totals.Failed, totals.Lost)
	}
	return nil
}

type runOptions struct {
	// watchSignals routes SIGINT to the supervisor's two-stage interrupt
	watchSignals bool
	saveFailing  string
}

// executeRun runs the enabled tests of reg with the reporters cfg asks for
func executeRun(ctx context.Context, cfg *config.Config, reg *registry.Registry, opts runOptions) (report.Totals, error) {
	reporters := report.NewMulti(report.NewConsole(os.Stdout, cfg.Runner.Verbose))

	var recorder *runstore.Recorder
	if cfg.Store.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.DatabasePath), 0755); err != nil {
			return report.Totals{}, fmt.Errorf("creating history dir: %w", err)
		}
		store, err := runstore.New(cfg.Store.DatabasePath)
		if err != nil {
			return report.Totals{}, fmt.Errorf("opening run history: %w", err)
		}
		defer store.Close()
		recorder = runstore.NewRecorder(store, cfg.Behavior)
		reporters = append(reporters, recorder)

		if opts.saveFailing != "" {
			defer func() {
				if err := saveFailing(store, recorder.RunID(), opts.saveFailing); err != nil {
					fmt.Fprintf(os.Stderr, "saving failing tests: %v\n", err)
				}
			}()
		}
	} else if opts.saveFailing != "" {
		return report.Totals{}, errors.New("--save-failing needs run history")
	}

	if n := cfg.Notifications; n.Desktop || n.SlackWebhook != "" {
		var runID func() string
		if recorder != nil {
			runID = recorder.RunID
		}
		reporters = append(reporters, notify.NewRunReporter(notify.NewMultiNotifier(
			notify.NewDesktopNotifier(n.Desktop),
			notify.NewSlackNotifier(n.SlackWebhook),
		), runID))
	}

	sup, err := supervisor.New(reg, cfg.Supervisor(), reporters)
	if err != nil {
		return report.Totals{}, err
	}
	if opts.watchSignals {
		stop := sup.WatchSignals()
		defer stop()
	}

	totals, err := sup.Run(ctx)
	if recorder != nil && recorder.Err() != nil {
		fmt.Fprintf(os.Stderr, "run history incomplete: %v\n", recorder.Err())
	}
	return totals, err
}

func saveFailing(store *runstore.Store, runID, path string) error {
	names, err := store.FailingTests(runID)
	if err != nil {
		return err
	}
	if err := testlist.FromNames(names).Save(path); err != nil {
		return err
	}
	fmt.Printf("Saved %d failing tests to %s\n", len(names), path)
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSKIP")
	for _, def := range registry.Default.All() {
		ok, err := listed(def, args)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		skip := "-"
		if def.Skip {
			skip = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", def.ID, def.Name, skip)
	}
	return w.Flush()
}

func listed(def *registry.Definition, globs []string) (bool, error) {
	if len(globs) == 0 {
		return lsAll || !registry.IsSpecial(def.Name), nil
	}
	for _, glob := range globs {
		ok, err := registry.Match(def, glob)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
