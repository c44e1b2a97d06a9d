package registry

import (
	"testing"

	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

func noop(t *testcase.T) {}

func newTestRegistry() *Registry {
	r := New()
	r.Register("func.compute.basic", noop)
	r.Register("func.renderpass.clear", noop)
	r.Register("func.query.timestamp", noop, WithSkip())
	r.Register("example.basic", noop)
	r.Register("self.crash", noop)
	return r
}

func TestRegister_AssignsStableIDs(t *testing.T) {
	r := newTestRegistry()

	for i, def := range r.All() {
		if def.ID != uint64(i) {
			t.Errorf("%s: ID = %d, want %d", def.Name, def.ID, i)
		}
		if r.Lookup(def.ID) != def {
			t.Errorf("Lookup(%d) did not return %s", def.ID, def.Name)
		}
	}
	if r.Lookup(99) != nil {
		t.Error("Lookup of unknown ID should return nil")
	}
	if r.Find("func.query.timestamp") == nil || !r.Find("func.query.timestamp").Skip {
		t.Error("WithSkip was not applied")
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	r := New()
	r.Register("a", noop)

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	r.Register("a", noop)
}

func TestEnableAllNormal(t *testing.T) {
	r := newTestRegistry()

	if n := r.EnableAllNormal(); n != 3 {
		t.Errorf("EnableAllNormal() = %d, want 3", n)
	}
	if r.NumEnabled() != 3 {
		t.Errorf("NumEnabled = %d, want 3", r.NumEnabled())
	}
	if r.Find("example.basic").Enabled() || r.Find("self.crash").Enabled() {
		t.Error("example and self tests must not be enabled")
	}

	// Enabling twice does not double count.
	r.EnableAllNormal()
	if r.NumEnabled() != 3 {
		t.Errorf("NumEnabled after second call = %d, want 3", r.NumEnabled())
	}

	r.Enable(r.Find("self.crash"))
	r.DisableAll()
	if r.NumEnabled() != 0 || r.Find("self.crash").Enabled() {
		t.Errorf("NumEnabled after DisableAll = %d, want 0", r.NumEnabled())
	}
}

func TestEnableMatching(t *testing.T) {
	tests := []struct {
		name  string
		globs []string
		want  []string
	}{
		{"star skips special tests", []string{"*"}, []string{"func.compute.basic", "func.renderpass.clear", "func.query.timestamp"}},
		{"prefix", []string{"func.render*"}, []string{"func.renderpass.clear"}},
		{"example needs literal prefix", []string{"example.*"}, []string{"example.basic"}},
		{"self needs literal prefix", []string{"self.*"}, []string{"self.crash"}},
		{"several globs", []string{"func.compute.*", "self.crash"}, []string{"func.compute.basic", "self.crash"}},
		{"no match", []string{"nope.*"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			n, err := r.EnableMatching(tt.globs)
			if err != nil {
				t.Fatal(err)
			}
			if n != len(tt.want) || r.NumEnabled() != len(tt.want) {
				t.Errorf("matched %d, enabled %d, want %d", n, r.NumEnabled(), len(tt.want))
			}
			for _, name := range tt.want {
				if !r.Find(name).Enabled() {
					t.Errorf("%s not enabled", name)
				}
			}
		})
	}
}

func TestEnableMatching_BadPattern(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.EnableMatching([]string{"func.[abc"}); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestDisableMatching(t *testing.T) {
	r := newTestRegistry()
	r.EnableAllNormal()

	n, err := r.DisableMatching([]string{"func.query.*"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("DisableMatching matched %d, want 1", n)
	}
	if r.NumEnabled() != 2 {
		t.Errorf("NumEnabled = %d, want 2", r.NumEnabled())
	}
}

func TestFreeze(t *testing.T) {
	r := newTestRegistry()
	r.Freeze()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Enable on a frozen registry did not panic")
			}
		}()
		r.Enable(r.Find("func.compute.basic"))
	}()

	r.Thaw()
	r.Enable(r.Find("func.compute.basic"))
	if r.NumEnabled() != 1 {
		t.Errorf("NumEnabled = %d, want 1", r.NumEnabled())
	}
}

func TestIsSpecial(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"example.basic", true},
		{"self.crash", true},
		{"func.compute.basic", false},
		{"selfish.test", false},
		{"examples.basic", false},
	}
	for _, tt := range tests {
		if got := IsSpecial(tt.name); got != tt.want {
			t.Errorf("IsSpecial(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
