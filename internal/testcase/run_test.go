package testcase

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRun_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		fn   Func
		want Outcome
	}{
		{"empty body passes", func(t *T) {}, Pass},
		{"fail", func(t *T) { t.Fail() }, Fail},
		{"failf continues", func(t *T) { t.Failf("bad %d", 1) }, Fail},
		{"fail now", func(t *T) { t.FailNow(); panic("unreachable") }, Fail},
		{"skip", func(t *T) { t.Skip() }, Skip},
		{"skipf", func(t *T) { t.Skipf("no %s", "gpu") }, Skip},
		{"fail then skip", func(t *T) { t.Fail(); t.Skip() }, Fail},
		{"panic", func(t *T) { panic("boom") }, Fail},
		{"nil body", nil, Fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Run("unit."+tt.name, tt.fn, BehaviorFlags{}); got != tt.want {
				t.Errorf("Run() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_CleanupOrder(t *testing.T) {
	for _, separate := range []bool{false, true} {
		var order []int
		got := Run("unit.cleanup", func(tc *T) {
			tc.Cleanup(func() { order = append(order, 1) })
			tc.Cleanup(func() { order = append(order, 2) })
			tc.Cleanup(func() { order = append(order, 3) })
		}, BehaviorFlags{UseSeparateCleanupExecution: separate})

		if got != Pass {
			t.Errorf("separate=%v: Run() = %v, want pass", separate, got)
		}
		if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
			t.Errorf("separate=%v: cleanup order = %v, want [3 2 1]", separate, order)
		}
	}
}

func TestRun_CleanupRunsAfterFailNow(t *testing.T) {
	ran := false
	got := Run("unit.cleanup-failnow", func(tc *T) {
		tc.Cleanup(func() { ran = true })
		tc.FailNow()
	}, BehaviorFlags{})

	if got != Fail {
		t.Errorf("Run() = %v, want fail", got)
	}
	if !ran {
		t.Error("cleanup did not run after FailNow")
	}
}

func TestRun_SkipCleanupPhase(t *testing.T) {
	ran := false
	Run("unit.no-cleanup", func(tc *T) {
		tc.Cleanup(func() { ran = true })
	}, BehaviorFlags{SkipCleanupPhase: true})

	if ran {
		t.Error("cleanup ran although the cleanup phase was disabled")
	}
}

func TestRun_PanickingCleanupFails(t *testing.T) {
	got := Run("unit.cleanup-panic", func(tc *T) {
		tc.Cleanup(func() { panic("cleanup boom") })
	}, BehaviorFlags{})

	if got != Fail {
		t.Errorf("Run() = %v, want fail", got)
	}
}

func TestT_Dump(t *testing.T) {
	dir := t.TempDir()

	Run("unit.dump-off", func(tc *T) {
		if err := tc.Dump("ref.png", []byte("x")); err != nil {
			tc.Fail()
		}
	}, BehaviorFlags{DumpDir: dir})

	got := Run("unit.dump-on", func(tc *T) {
		if err := tc.Dump("ref.png", []byte("pixels")); err != nil {
			tc.Failf("dump: %v", err)
		}
	}, BehaviorFlags{CaptureImages: true, DumpDir: dir})
	if got != Pass {
		t.Fatalf("Run() = %v, want pass", got)
	}

	if _, err := os.Stat(filepath.Join(dir, "unit.dump-off.ref.png")); !os.IsNotExist(err) {
		t.Error("dump written although image capture is disabled")
	}
	data, err := os.ReadFile(filepath.Join(dir, "unit.dump-on.ref.png"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pixels" {
		t.Errorf("dump content = %q, want pixels", data)
	}
}

func TestBehaviorFlags_EncodeDecode(t *testing.T) {
	in := BehaviorFlags{CaptureImages: true, UseSeparateCleanupExecution: true, DumpDir: "/tmp/a,b"}
	out, err := DecodeBehavior(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("DecodeBehavior(Encode()) = %+v, want %+v", out, in)
	}

	zero, err := DecodeBehavior("")
	if err != nil || zero != (BehaviorFlags{}) {
		t.Errorf("DecodeBehavior(\"\") = %+v, %v", zero, err)
	}

	if _, err := DecodeBehavior("{not json"); err == nil {
		t.Error("expected error for malformed flags")
	}
}

func TestParseOutcome(t *testing.T) {
	for _, o := range []Outcome{Pass, Fail, Skip} {
		got, err := ParseOutcome(o.String())
		if err != nil || got != o {
			t.Errorf("ParseOutcome(%q) = %v, %v", o.String(), got, err)
		}
	}
	if _, err := ParseOutcome("lost"); err == nil {
		t.Error("ParseOutcome(lost) should fail")
	}
	if Outcome(7).Valid() {
		t.Error("Outcome(7) should be invalid")
	}
}
