package supervisor

import (
	"context"
	"time"

	"github.com/hochfrequenz/crucible-runner/internal/report"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// runInProcess runs every test in the supervisor process. A crashing test
// takes the whole run down; use it only to debug a single test.
func (s *Supervisor) runInProcess(ctx context.Context) error {
	for _, def := range s.reg.All() {
		if ctx.Err() != nil || s.interrupted.Swap(false) {
			s.rep.Interrupted(report.InterruptAbort)
			return ctx.Err()
		}

		if !def.Enabled() {
			continue
		}
		if def.Skip {
			s.record(def, testcase.Skip, 0)
			continue
		}

		s.rep.TestStarted(def)
		start := time.Now()
		outcome := s.cfg.Executor(def, s.cfg.Flags)
		s.record(def, outcome, time.Since(start))
	}
	return nil
}
