package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/crucible-runner/internal/registry"
	_ "github.com/hochfrequenz/crucible-runner/internal/selftests"
	"github.com/hochfrequenz/crucible-runner/internal/worker"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "crucible",
		Short: "Crucible - process-isolating test runner",
		Long: `Crucible runs registered tests one at a time in a worker process.
A test that crashes its worker is reported as lost and the run continues
with a fresh worker. Ctrl-C cancels the running test; a second Ctrl-C
within the grace window stops the run.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	// The supervisor re-executes this binary for every worker.
	if worker.IsWorkerProcess() {
		worker.Main(registry.Default, nil)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
