package supervisor

import (
	"os"
	"os/signal"
)

// WatchSignals routes SIGINT to Interrupt until the returned stop function
// is called. The watcher does nothing but set the flag; the dispatch loop
// acts on it.
func (s *Supervisor) WatchSignals() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				s.Interrupt()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
