package runstore

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/report"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// Recorder persists runner events. Storage errors never interrupt a run;
// the first one is kept and returned by Err.
type Recorder struct {
	report.Nop

	store *Store
	flags testcase.BehaviorFlags
	runID string
	err   error
}

// NewRecorder creates a reporter that writes into store
func NewRecorder(store *Store, flags testcase.BehaviorFlags) *Recorder {
	return &Recorder{store: store, flags: flags}
}

// RunID returns the id of the current or last run
func (r *Recorder) RunID() string { return r.runID }

// Err returns the first storage error of the run
func (r *Recorder) Err() error { return r.err }

func (r *Recorder) RunStarted(total int) {
	r.runID = uuid.New().String()
	r.err = nil
	r.check(r.store.CreateRun(&Run{
		ID:        r.runID,
		StartedAt: time.Now(),
		Totals:    report.Totals{Total: total},
		Flags:     r.flags.Encode(),
	}))
}

func (r *Recorder) TestFinished(def *registry.Definition, outcome testcase.Outcome, elapsed time.Duration) {
	r.check(r.store.AddResult(r.runID, Result{
		TestID:  def.ID,
		Name:    def.Name,
		Outcome: outcome.String(),
		Elapsed: elapsed,
	}))
}

func (r *Recorder) TestLost(def *registry.Definition) {
	r.check(r.store.AddResult(r.runID, Result{
		TestID:  def.ID,
		Name:    def.Name,
		Outcome: OutcomeLost,
	}))
}

func (r *Recorder) Interrupted(stage report.InterruptStage) {
	r.check(r.store.SetInterrupt(r.runID, stage.String()))
}

func (r *Recorder) RunFinished(totals report.Totals) {
	r.check(r.store.FinishRun(r.runID, totals, time.Now()))
}

func (r *Recorder) check(err error) {
	if err == nil {
		return
	}
	log.Printf("[runstore] %v", err)
	if r.err == nil {
		r.err = err
	}
}
