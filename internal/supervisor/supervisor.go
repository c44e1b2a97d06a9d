// Package supervisor drives the enabled tests of a registry through worker
// processes. Each test runs in a separate process so that a crashing test
// costs at most that test's result: the supervisor reaps the dead worker,
// starts a new one and carries on with the next test.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/report"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
	"github.com/hochfrequenz/crucible-runner/internal/worker"
)

var (
	// ErrSpawn means a worker could not be started. It aborts the run.
	ErrSpawn = errors.New("supervisor: cannot spawn worker")
	// ErrWorkerLost means a test could not be dispatched even to a fresh worker.
	ErrWorkerLost = errors.New("supervisor: worker lost twice in a row")
	// ErrParallelUnsupported is returned for more than one job.
	ErrParallelUnsupported = errors.New("supervisor: more than one job is not supported")
)

// Config controls a supervisor
type Config struct {
	Spawn SpawnConfig
	Flags testcase.BehaviorFlags

	// GraceWindow is how long to wait after a first interrupt for a second one.
	GraceWindow time.Duration
	// KillTimeout is how long an interrupted worker gets before SIGKILL.
	KillTimeout time.Duration
	// PollInterval bounds how long a blocked receive goes without looking at
	// the interrupt flag.
	PollInterval time.Duration

	// NoFork runs tests inside the supervisor process. There is no crash
	// isolation, and an interrupt stops the run at the next test.
	NoFork bool
	// Jobs is the number of concurrent workers. Only 1 is supported.
	Jobs int

	// Executor runs tests in NoFork mode. Defaults to worker.DefaultExecutor.
	Executor worker.Executor

	Debug bool
}

// DefaultConfig returns the settings used by the crucible command
func DefaultConfig() Config {
	return Config{
		GraceWindow:  500 * time.Millisecond,
		KillTimeout:  2 * time.Second,
		PollInterval: 50 * time.Millisecond,
		Jobs:         1,
	}
}

// Supervisor owns the worker and the run counters. It is not safe for
// concurrent use except for Interrupt.
type Supervisor struct {
	reg *registry.Registry
	cfg Config
	rep report.Reporter

	// interrupted is the only state shared with the signal path.
	interrupted atomic.Bool

	totals report.Totals
	worker *workerProc
	// settled holds the IDs that already got an outcome or a lost event.
	settled map[uint64]bool
}

// New validates cfg and creates a supervisor for reg
func New(reg *registry.Registry, cfg Config, rep report.Reporter) (*Supervisor, error) {
	def := DefaultConfig()
	if cfg.Jobs == 0 {
		cfg.Jobs = 1
	}
	if cfg.Jobs > 1 {
		return nil, fmt.Errorf("%w (jobs=%d)", ErrParallelUnsupported, cfg.Jobs)
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = def.GraceWindow
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = def.KillTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Executor == nil {
		cfg.Executor = worker.DefaultExecutor
	}
	if !cfg.NoFork && cfg.Spawn.Path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating worker executable: %w", err)
		}
		cfg.Spawn.Path = exe
	}
	if cfg.Spawn.Stdout == nil {
		cfg.Spawn.Stdout = os.Stdout
	}
	if cfg.Spawn.Stderr == nil {
		cfg.Spawn.Stderr = os.Stderr
	}
	if rep == nil {
		rep = report.Nop{}
	}

	return &Supervisor{reg: reg, cfg: cfg, rep: rep}, nil
}

// Interrupt requests the two-stage cancellation. It only sets a flag and is
// safe to call from any goroutine, including a signal watcher.
func (s *Supervisor) Interrupt() {
	s.interrupted.Store(true)
}

// Totals returns the counters of the last run
func (s *Supervisor) Totals() report.Totals {
	return s.totals
}

// RunAll runs every enabled test and reports whether none failed and none
// were lost.
func (s *Supervisor) RunAll(ctx context.Context) bool {
	totals, err := s.Run(ctx)
	if err != nil {
		log.Printf("[supervisor] %v", err)
	}
	return err == nil && totals.OK()
}

// Run runs every enabled test. The returned totals always satisfy
// Passed+Failed+Skipped+Lost == Total, also when an error aborted the run.
func (s *Supervisor) Run(ctx context.Context) (report.Totals, error) {
	s.reg.Freeze()
	defer s.reg.Thaw()

	s.interrupted.Store(false)
	s.totals = report.Totals{Total: s.reg.NumEnabled()}
	s.settled = make(map[uint64]bool, s.totals.Total)
	s.rep.RunStarted(s.totals.Total)

	var err error
	if s.cfg.NoFork {
		err = s.runInProcess(ctx)
	} else {
		err = s.runWithWorkers(ctx)
		if s.worker != nil && s.worker.state != stateReaped {
			s.reap(s.worker)
		}
		s.worker = nil
	}

	// Tests the run never reached are lost as well.
	for _, def := range s.reg.All() {
		if def.Enabled() && !s.settled[def.ID] {
			s.lose(def)
		}
	}
	s.totals.Lost = s.totals.Total - s.totals.Ran()
	s.rep.RunFinished(s.totals)
	return s.totals, err
}

func (s *Supervisor) runWithWorkers(ctx context.Context) error {
	if err := s.respawn(); err != nil {
		return err
	}

	for _, def := range s.reg.All() {
		// A first interrupt kills the running test. A second one, if it
		// arrives before tests resume, ends the run.
		if stop, err := s.handleInterrupt(ctx); stop {
			return err
		}

		if !def.Enabled() {
			continue
		}
		if def.Skip {
			s.record(def, testcase.Skip, 0)
			continue
		}

		s.rep.TestStarted(def)
		if err := s.dispatch(ctx, def); err != nil {
			return err
		}
	}

	if stop, err := s.handleInterrupt(ctx); stop {
		return err
	}

	if s.worker.state == stateAlive {
		// Tell the worker that no more tests follow.
		if err := s.worker.sendSentinel(); err != nil {
			s.debugf("sending sentinel: %v", err)
		}
		s.reap(s.worker)
	}
	return nil
}

// dispatch sends def to the current worker and waits for its result. A
// failed send means the worker is gone: it is reaped and def goes to a fresh
// worker. A second failure gives up on the run.
func (s *Supervisor) dispatch(ctx context.Context, def *registry.Definition) error {
	if s.worker.state == stateReaped {
		if err := s.respawn(); err != nil {
			return err
		}
	}

	if err := s.worker.send(def); err != nil {
		s.debugf("dispatching %s to worker %d failed: %v", def.Name, s.worker.pid(), err)
		s.reap(s.worker)

		if err := s.respawn(); err != nil {
			return err
		}
		if err := s.worker.send(def); err != nil {
			s.lose(def)
			return fmt.Errorf("%w: dispatching %s: %w", ErrWorkerLost, def.Name, err)
		}
	}

	status := s.drain(s.worker, func() bool {
		return s.interrupted.Load() || ctx.Err() != nil
	})
	if status == drainBroken {
		// The worker died with the test in flight. The next dispatch gets a
		// fresh worker.
		s.reap(s.worker)
	}
	return nil
}

// handleInterrupt checks and clears the interrupt flag. It reports stop when
// the run must end.
func (s *Supervisor) handleInterrupt(ctx context.Context) (stop bool, err error) {
	if ctx.Err() != nil {
		s.killWorker()
		s.rep.Interrupted(report.InterruptAbort)
		return true, ctx.Err()
	}
	if !s.interrupted.Swap(false) {
		return false, nil
	}

	s.killWorker()
	s.rep.Interrupted(report.InterruptCancel)

	// Give the user a short window to interrupt again before tests resume.
	timer := time.NewTimer(s.cfg.GraceWindow)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	if s.interrupted.Swap(false) || ctx.Err() != nil {
		s.rep.Interrupted(report.InterruptAbort)
		return true, ctx.Err()
	}

	// Resume with a fresh worker.
	if err := s.respawn(); err != nil {
		return true, err
	}
	return false, nil
}

func (s *Supervisor) respawn() error {
	w, err := spawnWorker(s.cfg.Spawn, s.cfg.Flags)
	if err != nil {
		return err
	}
	s.worker = w
	s.debugf("spawned worker %d", w.pid())
	s.rep.WorkerSpawned(w.pid())
	return nil
}

func (s *Supervisor) killWorker() {
	w := s.worker
	if w == nil || w.state != stateAlive {
		return
	}
	s.debugf("interrupting worker %d", w.pid())
	if err := w.kill(unix.SIGINT); err != nil {
		s.debugf("%v", err)
	}
	s.reap(w)
}

type drainStatus int

const (
	drainDone drainStatus = iota
	drainAbandoned
	drainBroken
)

// drain receives results until none are outstanding or the result channel
// breaks. poll runs whenever a receive times out; returning true abandons the
// drain with results still outstanding.
func (s *Supervisor) drain(w *workerProc, poll func() bool) drainStatus {
	for w.active() > 0 {
		got, pk, err := w.recv(time.Now().Add(s.cfg.PollInterval))
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if poll != nil && poll() {
				return drainAbandoned
			}
			continue
		}
		if err != nil {
			s.debugf("result channel of worker %d: %v", w.pid(), err)
			return drainBroken
		}

		if pk.TestID != got.def.ID {
			log.Printf("[supervisor] worker %d answered test %d while %s (%d) was pending",
				w.pid(), pk.TestID, got.def.Name, got.def.ID)
		}
		outcome := testcase.Outcome(pk.Outcome)
		if !outcome.Valid() {
			log.Printf("[supervisor] worker %d sent invalid outcome %d for %s", w.pid(), pk.Outcome, got.def.Name)
			outcome = testcase.Fail
		}
		s.record(got.def, outcome, time.Since(got.sent))
	}
	return drainDone
}

// reap drains what is left, writes off unanswered tests as lost, releases the
// channels and waits for the process.
func (s *Supervisor) reap(w *workerProc) {
	if w == nil || w.state == stateReaped || w.state == stateUnspawned {
		return
	}
	w.state = stateDraining

	s.drain(w, func() bool {
		if w.killedAt.IsZero() {
			// Waiting on a live worker; an interrupt kills it.
			if s.interrupted.Load() {
				w.kill(unix.SIGINT)
			}
			return false
		}
		since := time.Since(w.killedAt)
		if since > 2*s.cfg.KillTimeout {
			return true
		}
		if since > s.cfg.KillTimeout && !w.sigkilled {
			s.debugf("worker %d ignored SIGINT, sending SIGKILL", w.pid())
			w.kill(unix.SIGKILL)
		}
		return false
	})

	for _, lost := range w.pending {
		s.lose(lost.def)
	}
	w.pending = nil

	w.dispatch.Close()
	w.result.Close()
	status := w.wait(s.cfg.KillTimeout)
	w.state = stateReaped

	s.debugf("reaped worker %d: %s", w.pid(), status)
	s.rep.WorkerReaped(w.pid(), status)
}

func (s *Supervisor) record(def *registry.Definition, outcome testcase.Outcome, elapsed time.Duration) {
	s.settled[def.ID] = true
	switch outcome {
	case testcase.Pass:
		s.totals.Passed++
	case testcase.Fail:
		s.totals.Failed++
	case testcase.Skip:
		s.totals.Skipped++
	}
	s.rep.TestFinished(def, outcome, elapsed)
}

// lose reports def as lost. The Lost counter itself is derived from the
// totals when the run ends.
func (s *Supervisor) lose(def *registry.Definition) {
	s.settled[def.ID] = true
	s.rep.TestLost(def)
}

func (s *Supervisor) debugf(format string, args ...any) {
	if s.cfg.Debug {
		log.Printf("[supervisor] "+format, args...)
	}
}
