// Package report turns runner events into the streamed per-test log and the
// final summary block.
package report

import (
	"time"

	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// Totals are the counters of a finished or aborted run
type Totals struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Lost    int
}

// Ran returns the number of tests with a received outcome
func (t Totals) Ran() int {
	return t.Passed + t.Failed + t.Skipped
}

// OK reports whether the run had no failed and no lost tests
func (t Totals) OK() bool {
	return t.Failed == 0 && t.Lost == 0
}

// InterruptStage distinguishes the two interrupt stages
type InterruptStage int

const (
	// InterruptCancel: in-flight work was killed, the run resumes after the grace window.
	InterruptCancel InterruptStage = iota
	// InterruptAbort: a second interrupt arrived, the run stops.
	InterruptAbort
)

func (s InterruptStage) String() string {
	if s == InterruptAbort {
		return "abort"
	}
	return "cancel"
}

// Reporter receives runner events. Calls come from the supervisor's dispatch
// loop only, never concurrently.
type Reporter interface {
	RunStarted(total int)
	TestStarted(def *registry.Definition)
	TestFinished(def *registry.Definition, outcome testcase.Outcome, elapsed time.Duration)
	TestLost(def *registry.Definition)
	WorkerSpawned(pid int)
	WorkerReaped(pid int, status string)
	Interrupted(stage InterruptStage)
	RunFinished(totals Totals)
}

// Multi sends every event to all reporters
type Multi []Reporter

// NewMulti creates a reporter that fans out to all provided reporters
func NewMulti(reporters ...Reporter) Multi {
	return Multi(reporters)
}

func (m Multi) RunStarted(total int) {
	for _, r := range m {
		r.RunStarted(total)
	}
}

func (m Multi) TestStarted(def *registry.Definition) {
	for _, r := range m {
		r.TestStarted(def)
	}
}

func (m Multi) TestFinished(def *registry.Definition, outcome testcase.Outcome, elapsed time.Duration) {
	for _, r := range m {
		r.TestFinished(def, outcome, elapsed)
	}
}

func (m Multi) TestLost(def *registry.Definition) {
	for _, r := range m {
		r.TestLost(def)
	}
}

func (m Multi) WorkerSpawned(pid int) {
	for _, r := range m {
		r.WorkerSpawned(pid)
	}
}

func (m Multi) WorkerReaped(pid int, status string) {
	for _, r := range m {
		r.WorkerReaped(pid, status)
	}
}

func (m Multi) Interrupted(stage InterruptStage) {
	for _, r := range m {
		r.Interrupted(stage)
	}
}

func (m Multi) RunFinished(totals Totals) {
	for _, r := range m {
		r.RunFinished(totals)
	}
}

// Nop ignores every event
type Nop struct{}

func (Nop) RunStarted(int) {}
func (Nop) TestStarted(*registry.Definition) {}
func (Nop) TestFinished(*registry.Definition, testcase.Outcome, time.Duration) {}
func (Nop) TestLost(*registry.Definition) {}
func (Nop) WorkerSpawned(int) {}
func (Nop) WorkerReaped(int, string) {}
func (Nop) Interrupted(InterruptStage) {}
func (Nop) RunFinished(Totals) {}
