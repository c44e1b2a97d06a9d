// Package selftests registers tests that exercise the runner itself. The
// example.* and self.* tests only run when selected by their prefix; the
// func.* tests are part of a normal run.
package selftests

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hochfrequenz/crucible-runner/internal/channel"
	"github.com/hochfrequenz/crucible-runner/internal/protocol"
	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

func init() {
	Register(registry.Default)
}

// Register adds the built-in tests to reg. Calling it on two registries in
// the same order yields the same IDs.
func Register(reg *registry.Registry) {
	reg.Register("example.basic", exampleBasic)
	reg.Register("example.cleanup", exampleCleanup)
	reg.Register("example.dump", exampleDump)

	reg.Register("func.channel.roundtrip", channelRoundtrip)
	reg.Register("func.channel.peer-closed", channelPeerClosed)
	reg.Register("func.protocol.sentinel", protocolSentinel)

	reg.Register("self.pass", func(t *testcase.T) {})
	reg.Register("self.fail", func(t *testcase.T) { t.Failf("failing on purpose") })
	reg.Register("self.skip", func(t *testcase.T) { t.Skipf("skipping on purpose") })
	reg.Register("self.skip-flag", func(t *testcase.T) { os.Exit(3) }, registry.WithSkip())
	reg.Register("self.panic", func(t *testcase.T) { panic("panicking on purpose") })
	reg.Register("self.crash", selfCrash)
	reg.Register("self.abort", selfAbort)
	reg.Register("self.exit", func(t *testcase.T) { os.Exit(3) })
	reg.Register("self.hang", selfHang)
	reg.Register("self.cleanup-fail", func(t *testcase.T) {
		t.Cleanup(func() { panic("cleanup panicking on purpose") })
	})
}

func exampleBasic(t *testcase.T) {
	t.Logf("flags: %+v", t.Flags())
	if t.Name() != "example.basic" {
		t.Fatalf("unexpected name %q", t.Name())
	}
}

func exampleCleanup(t *testcase.T) {
	f, err := os.CreateTemp("", "crucible-example-*")
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	t.Cleanup(func() { f.Close() })

	if _, err := f.WriteString("crucible"); err != nil {
		t.Failf("writing %s: %v", f.Name(), err)
	}
}

func exampleDump(t *testcase.T) {
	// A 1x1 grey PGM.
	img := []byte("P5\n1 1\n255\n\x80")
	if err := t.Dump("pgm", img); err != nil {
		t.Failf("%v", err)
	}
}

func channelRoundtrip(t *testcase.T) {
	p, err := channel.New[protocol.ResultPacket]()
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(func() { p.Close() })

	want := protocol.ResultPacket{TestID: 42, Outcome: uint32(testcase.Skip)}
	if err := p.SendAtomic(want); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := p.RecvAtomic()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got != want {
		t.Failf("received %+v, want %+v", got, want)
	}
}

func channelPeerClosed(t *testcase.T) {
	p, err := channel.New[protocol.DispatchPacket]()
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(func() { p.Close() })

	// Hand the write end to nobody, like a worker that died.
	if err := p.BecomeReader(); err != nil {
		t.Fatalf("%v", err)
	}
	if _, err := p.RecvAtomic(); !errors.Is(err, channel.ErrClosed) {
		t.Failf("recv on closed peer: %v, want ErrClosed", err)
	}
}

func protocolSentinel(t *testcase.T) {
	if !protocol.Terminate().IsSentinel() {
		t.Failf("Terminate() is not the sentinel")
	}
	if protocol.Dispatch(0).IsSentinel() {
		t.Failf("test 0 is mistaken for the sentinel")
	}

	size, err := channel.PacketSize[protocol.DispatchPacket]()
	if err != nil || size >= channel.PipeBuf {
		t.Failf("dispatch packet size %d (%v) is not atomic", size, err)
	}

	if s := (protocol.ResultPacket{TestID: 1, Outcome: uint32(testcase.Pass)}).String(); s == "" {
		t.Failf("empty result description")
	}
}

func selfCrash(t *testcase.T) {
	unix.Kill(os.Getpid(), unix.SIGKILL)
	selfHang(t)
}

func selfAbort(t *testcase.T) {
	unix.Kill(os.Getpid(), unix.SIGABRT)
	selfHang(t)
}

func selfHang(t *testcase.T) {
	for {
		time.Sleep(time.Hour)
	}
}
