package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/crucible-runner/internal/config"
	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/schedule"
)

var scheduleList bool

func init() {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the [[schedule]] entries of the config on their cron times",
		Long: `Stay in the foreground and run each configured schedule when its cron
expression fires. Runs never overlap. Ctrl-C aborts the current run and
exits.`,
		RunE: runSchedule,
	}
	scheduleCmd.Flags().BoolVarP(&scheduleList, "list", "l", false, "print the schedules and exit")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jobs := cfg.Jobs()
	if len(jobs) == 0 {
		return fmt.Errorf("no [[schedule]] entries configured")
	}

	sched, err := schedule.New(jobs, time.Now())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRON\tNEXT RUN")
	for _, job := range sched.Jobs() {
		next := sched.NextRun(job.Name)
		fmt.Fprintf(w, "%s\t%s\t%s (%s)\n", job.Name, job.Cron, next.Format(time.DateTime), humanize.Time(next))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if scheduleList {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = sched.Loop(ctx, 30*time.Second, func(ctx context.Context, job schedule.Job) error {
		return runJob(ctx, cfg, registry.Default, job)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// runJob runs one schedule with the job's own selection in place of the
// configured one.
func runJob(ctx context.Context, cfg *config.Config, reg *registry.Registry, job schedule.Job) error {
	jobCfg := *cfg
	jobCfg.Tests = config.TestsConfig{TestList: job.TestList, Patterns: job.Patterns}

	reg.DisableAll()
	if err := selectTests(reg, &jobCfg, nil); err != nil {
		return err
	}

	fmt.Printf("Starting scheduled run %s\n", job.Name)
	totals, err := executeRun(ctx, &jobCfg, reg, runOptions{})
	if err != nil {
		return err
	}
	if !totals.OK() {
		return fmt.Errorf("%d failed, %d lost", totals.Failed, totals.Lost)
	}
	return nil
}
