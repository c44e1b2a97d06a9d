// Package worker is the process that actually runs tests. A worker is started
// by the supervisor with its channel halves on fds 3 and 4, executes one
// dispatched test at a time and reports each outcome back. If a test crashes
// the process, the supervisor notices and starts a new worker.
package worker

import (
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/sys/unix"

	"github.com/hochfrequenz/crucible-runner/internal/channel"
	"github.com/hochfrequenz/crucible-runner/internal/protocol"
	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// Exit statuses of a worker process
const (
	ExitOK      = 0
	ExitFailure = 1
)

// ErrDispatchClosed is returned by Serve when the supervisor went away
// without sending the termination sentinel.
var ErrDispatchClosed = errors.New("worker: dispatch channel closed")

// Executor runs one test and returns its outcome
type Executor func(def *registry.Definition, flags testcase.BehaviorFlags) testcase.Outcome

// DefaultExecutor runs the definition's body with testcase.Run
func DefaultExecutor(def *registry.Definition, flags testcase.BehaviorFlags) testcase.Outcome {
	return testcase.Run(def.Name, def.Run, flags)
}

// IsWorkerProcess reports whether the current process was spawned in the
// worker role.
func IsWorkerProcess() bool {
	return os.Getenv(protocol.EnvWorker) == "1"
}

// Serve receives dispatch packets until the sentinel arrives, running each
// test with exec and sending back its result. It returns nil only on the
// sentinel.
func Serve(
	reg *registry.Registry,
	dispatch *channel.Pipe[protocol.DispatchPacket],
	result *channel.Pipe[protocol.ResultPacket],
	flags testcase.BehaviorFlags,
	exec Executor,
) error {
	if exec == nil {
		exec = DefaultExecutor
	}

	for {
		pk, err := dispatch.RecvAtomic()
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				return ErrDispatchClosed
			}
			return fmt.Errorf("receiving dispatch: %w", err)
		}
		if pk.IsSentinel() {
			return nil
		}

		outcome := testcase.Fail
		if def := reg.Lookup(pk.TestID); def != nil {
			outcome = exec(def, flags)
		} else {
			log.Printf("[worker] unknown test id %d", pk.TestID)
		}

		res := protocol.ResultPacket{TestID: pk.TestID, Outcome: uint32(outcome)}
		if err := result.SendAtomic(res); err != nil {
			// The supervisor owns recovery; nothing to retry here.
			return fmt.Errorf("sending result for test %d: %w", pk.TestID, err)
		}
	}
}

// Main is the entry point of a worker process. It never returns.
func Main(reg *registry.Registry, exec Executor) {
	os.Exit(run(reg, exec))
}

func run(reg *registry.Registry, exec Executor) int {
	if !IsWorkerProcess() {
		log.Printf("[worker] %s is not set; refusing to run as worker", protocol.EnvWorker)
		return ExitFailure
	}

	flags, err := testcase.DecodeBehavior(os.Getenv(protocol.EnvBehavior))
	if err != nil {
		log.Printf("[worker] %v", err)
		return ExitFailure
	}

	dispatch, err := openInherited[protocol.DispatchPacket](protocol.DispatchFD, "dispatch", channel.Reader)
	if err != nil {
		log.Printf("[worker] %v", err)
		return ExitFailure
	}
	defer dispatch.Close()

	result, err := openInherited[protocol.ResultPacket](protocol.ResultFD, "result", channel.Writer)
	if err != nil {
		log.Printf("[worker] %v", err)
		return ExitFailure
	}
	defer result.Close()

	if err := Serve(reg, dispatch, result, flags, exec); err != nil {
		log.Printf("[worker] %v", err)
		return ExitFailure
	}
	return ExitOK
}

func openInherited[T any](fd int, name string, dir channel.Direction) (*channel.Pipe[T], error) {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return nil, fmt.Errorf("%s channel fd %d not inherited: %w", name, fd, err)
	}
	// Processes started by a test must not hold the channel open.
	unix.CloseOnExec(fd)
	return channel.Open[T](os.NewFile(uintptr(fd), name), dir)
}
