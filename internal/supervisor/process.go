package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hochfrequenz/crucible-runner/internal/channel"
	"github.com/hochfrequenz/crucible-runner/internal/protocol"
	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// SpawnConfig describes how to start a worker process. The started program
// must call worker.Main when it finds itself in the worker role.
type SpawnConfig struct {
	Path   string
	Args   []string
	Env    []string // nil inherits the supervisor's environment
	Stdout io.Writer
	Stderr io.Writer
}

type workerState int

const (
	stateUnspawned workerState = iota
	stateAlive
	stateDraining
	stateReaped
)

func (s workerState) String() string {
	switch s {
	case stateAlive:
		return "alive"
	case stateDraining:
		return "draining"
	case stateReaped:
		return "reaped"
	default:
		return "unspawned"
	}
}

// workerProc is the supervisor's handle on one worker process.
type workerProc struct {
	cmd      *exec.Cmd
	state    workerState
	dispatch *channel.Pipe[protocol.DispatchPacket]
	result   *channel.Pipe[protocol.ResultPacket]

	// pending holds dispatched tests without a result, oldest first.
	// len(pending) is the active count.
	pending []inflight

	killedAt  time.Time
	sigkilled bool
}

type inflight struct {
	def  *registry.Definition
	sent time.Time
}

func spawnWorker(cfg SpawnConfig, flags testcase.BehaviorFlags) (*workerProc, error) {
	dispatch, err := channel.New[protocol.DispatchPacket]()
	if err != nil {
		return nil, fmt.Errorf("%w: dispatch channel: %w", ErrSpawn, err)
	}
	result, err := channel.New[protocol.ResultPacket]()
	if err != nil {
		dispatch.Close()
		return nil, fmt.Errorf("%w: result channel: %w", ErrSpawn, err)
	}

	env := cfg.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(env[:len(env):len(env)],
		protocol.EnvWorker+"=1",
		protocol.EnvBehavior+"="+flags.Encode(),
	)

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = env
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr
	// ExtraFiles[i] becomes fd 3+i in the child.
	cmd.ExtraFiles = []*os.File{dispatch.ReadEnd(), result.WriteEnd()}
	cmd.SysProcAttr = workerSysProcAttr()

	if err := cmd.Start(); err != nil {
		dispatch.Close()
		result.Close()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	w := &workerProc{cmd: cmd, state: stateAlive, dispatch: dispatch, result: result}

	// Keep only the supervisor's halves so a dead worker shows up as EOF/EPIPE.
	if err := dispatch.BecomeWriter(); err != nil {
		w.abandon()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	if err := result.BecomeReader(); err != nil {
		w.abandon()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	return w, nil
}

func (w *workerProc) pid() int {
	if w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

func (w *workerProc) active() int { return len(w.pending) }

func (w *workerProc) send(def *registry.Definition) error {
	if w.state != stateAlive {
		panic(fmt.Sprintf("supervisor: dispatch to %s worker", w.state))
	}
	if err := w.dispatch.SendAtomic(protocol.Dispatch(def.ID)); err != nil {
		return err
	}
	w.pending = append(w.pending, inflight{def: def, sent: time.Now()})
	return nil
}

func (w *workerProc) sendSentinel() error {
	return w.dispatch.SendAtomic(protocol.Terminate())
}

// recv waits for one result until deadline. The returned test is always the
// oldest pending one; results are strictly paired with dispatches.
func (w *workerProc) recv(deadline time.Time) (inflight, protocol.ResultPacket, error) {
	if err := w.result.SetReadDeadline(deadline); err != nil {
		return inflight{}, protocol.ResultPacket{}, err
	}
	pk, err := w.result.RecvAtomic()
	if err != nil {
		return inflight{}, pk, err
	}

	head := w.pending[0]
	w.pending = w.pending[1:]
	return head, pk, nil
}

// kill signals the worker. A worker that already exited is not an error.
func (w *workerProc) kill(sig syscall.Signal) error {
	if sig == unix.SIGKILL {
		w.sigkilled = true
	}
	if w.killedAt.IsZero() {
		w.killedAt = time.Now()
	}
	if err := unix.Kill(w.pid(), sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signaling worker %d: %w", w.pid(), err)
	}
	return nil
}

// wait reaps the process, killing it if it does not exit within timeout.
func (w *workerProc) wait(timeout time.Duration) string {
	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(timeout):
		w.kill(unix.SIGKILL)
		<-done
	}
	return describeExit(w.cmd.ProcessState)
}

// abandon tears down a worker that never became usable.
func (w *workerProc) abandon() {
	w.dispatch.Close()
	w.result.Close()
	w.kill(unix.SIGKILL)
	w.cmd.Wait()
	w.state = stateReaped
}

func describeExit(ps *os.ProcessState) string {
	if ps == nil {
		return "unknown"
	}
	sys, ok := ps.Sys().(syscall.WaitStatus)
	if !ok {
		return ps.String()
	}
	ws := unix.WaitStatus(sys)
	switch {
	case ws.Exited():
		return fmt.Sprintf("exit status %d", ws.ExitStatus())
	case ws.Signaled() && ws.CoreDump():
		return fmt.Sprintf("killed by %s (core dumped)", unix.SignalName(ws.Signal()))
	case ws.Signaled():
		return fmt.Sprintf("killed by %s", unix.SignalName(ws.Signal()))
	default:
		return ps.String()
	}
}
