// Package protocol defines the packets exchanged between the supervisor and a
// worker process. Packets are fixed size and travel over OS pipes, one packet
// per write.
package protocol

import (
	"fmt"
	"math"
)

// NoMoreTests is the dispatch sentinel telling a worker to exit.
const NoMoreTests uint64 = math.MaxUint64

// Inherited file descriptors in the worker process. The supervisor passes the
// worker's halves through exec.Cmd.ExtraFiles, which start at fd 3.
const (
	DispatchFD = 3
	ResultFD   = 4
)

// Environment variables set on a spawned worker.
const (
	// EnvWorker marks a process as running in the worker role.
	EnvWorker = "CRUCIBLE_WORKER"
	// EnvBehavior carries the behavior flags copied into the worker at spawn.
	EnvBehavior = "CRUCIBLE_BEHAVIOR"
)

// Supervisor -> Worker

// DispatchPacket tells a worker which test to run next
type DispatchPacket struct {
	TestID uint64
}

// Dispatch builds a packet for the given test id
func Dispatch(id uint64) DispatchPacket {
	return DispatchPacket{TestID: id}
}

// Terminate builds the sentinel packet
func Terminate() DispatchPacket {
	return DispatchPacket{TestID: NoMoreTests}
}

// IsSentinel reports whether the packet ends the worker loop
func (p DispatchPacket) IsSentinel() bool {
	return p.TestID == NoMoreTests
}

// Worker -> Supervisor

// ResultPacket reports the outcome of one dispatched test
type ResultPacket struct {
	TestID  uint64
	Outcome uint32
}

func (p ResultPacket) String() string {
	return fmt.Sprintf("result{test=%d outcome=%d}", p.TestID, p.Outcome)
}
