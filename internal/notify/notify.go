// Package notify tells the user about finished runs outside the terminal.
package notify

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/report"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// Level is the severity of a notification
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// Notification is one message to deliver
type Notification struct {
	Title   string
	Message string
	Level   Level
	// Run is set for run summaries.
	Run *RunInfo
}

// RunInfo describes a finished run
type RunInfo struct {
	ID      string
	Totals  report.Totals
	Elapsed time.Duration
	// Failing lists failed tests, then lost ones, in the order they were reported.
	Failing []string
	Aborted bool
}

// Notifier delivers notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to several notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers n to every notifier and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Summary builds the notification for a finished run
func Summary(run RunInfo) Notification {
	t := run.Totals
	n := Notification{
		Title: "crucible: run finished",
		Message: fmt.Sprintf("%d tests: %d pass, %d fail, %d skip, %d lost",
			t.Total, t.Passed, t.Failed, t.Skipped, t.Lost),
		Level: LevelSuccess,
		Run:   &run,
	}
	switch {
	case run.Aborted:
		n.Title = "crucible: run aborted"
		n.Level = LevelWarning
	case !t.OK():
		n.Title = "crucible: run failed"
		n.Level = LevelError
	}
	return n
}

// shortList joins at most max names and says how many were left out.
func shortList(names []string, max int) string {
	if len(names) <= max {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:max], ", "), len(names)-max)
}

// RunReporter collects what a run produced and sends its summary when the
// run finishes. Send errors are logged; they never fail the run.
type RunReporter struct {
	report.Nop
	notifier Notifier
	runID    func() string

	started time.Time
	failed  []string
	lost    []string
	aborted bool
}

// NewRunReporter wraps notifier as a report.Reporter. runID, if not nil,
// names the run in the summary, e.g. the history recorder's id.
func NewRunReporter(notifier Notifier, runID func() string) *RunReporter {
	return &RunReporter{notifier: notifier, runID: runID}
}

func (r *RunReporter) RunStarted(int) {
	r.started = time.Now()
	r.failed, r.lost = nil, nil
	r.aborted = false
}

func (r *RunReporter) TestFinished(def *registry.Definition, outcome testcase.Outcome, _ time.Duration) {
	if outcome == testcase.Fail {
		r.failed = append(r.failed, def.Name)
	}
}

func (r *RunReporter) TestLost(def *registry.Definition) {
	r.lost = append(r.lost, def.Name)
}

func (r *RunReporter) Interrupted(stage report.InterruptStage) {
	if stage == report.InterruptAbort {
		r.aborted = true
	}
}

func (r *RunReporter) RunFinished(t report.Totals) {
	run := RunInfo{
		Totals:  t,
		Elapsed: time.Since(r.started),
		Failing: append(append([]string(nil), r.failed...), r.lost...),
		Aborted: r.aborted,
	}
	if r.runID != nil {
		run.ID = r.runID()
	}
	if err := r.notifier.Send(Summary(run)); err != nil {
		log.Printf("[notify] %v", err)
	}
}
