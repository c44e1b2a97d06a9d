package testlist

import (
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/crucible-runner/internal/registry"
)

func newRegistry() *registry.Registry {
	reg := registry.New()
	for _, name := range []string{
		"io.read", "io.write", "io.slow_read",
		"gpu.draw.triangle", "gpu.draw.quad",
		"example.basic", "self.crash",
	} {
		reg.Register(name, nil)
	}
	return reg
}

func enabledNames(reg *registry.Registry) []string {
	var names []string
	for _, def := range reg.All() {
		if def.Enabled() {
			names = append(names, def.Name)
		}
	}
	return names
}

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "empty list runs normal tests",
			yaml: "",
			want: []string{"io.read", "io.write", "io.slow_read", "gpu.draw.triangle", "gpu.draw.quad"},
		},
		{
			name: "include only",
			yaml: "include:\n  - \"gpu.**\"\n",
			want: []string{"gpu.draw.triangle", "gpu.draw.quad"},
		},
		{
			name: "include and exclude",
			yaml: "include: [\"io.*\"]\nexclude: [\"io.slow*\"]\n",
			want: []string{"io.read", "io.write"},
		},
		{
			name: "exclude from everything",
			yaml: "exclude: [\"gpu.**\"]\n",
			want: []string{"io.read", "io.write", "io.slow_read"},
		},
		{
			name: "star skips special tests",
			yaml: "include: [\"*\"]\n",
			want: []string{"io.read", "io.write", "io.slow_read", "gpu.draw.triangle", "gpu.draw.quad"},
		},
		{
			name: "self tests need their prefix",
			yaml: "include: [\"io.read\", \"self.*\"]\n",
			want: []string{"io.read", "self.crash"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			reg := newRegistry()
			n, err := l.Apply(reg)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}

			got := enabledNames(reg)
			if n != len(tt.want) || len(got) != len(tt.want) {
				t.Fatalf("enabled %v (n=%d), want %v", got, n, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("enabled[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("includes:\n  - io.*\n")); err == nil {
		t.Error("Parse accepted a misspelled key")
	}
}

func TestApply_BadPattern(t *testing.T) {
	l := &List{Include: []string{"io.[abc"}}
	if _, err := l.Apply(newRegistry()); err == nil {
		t.Error("Apply accepted a malformed glob")
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failing.yaml")

	if err := FromNames([]string{"io.write", "gpu.draw.quad"}).Save(path); err != nil {
		t.Fatal(err)
	}
	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Include) != 2 || l.Include[1] != "gpu.draw.quad" || len(l.Exclude) != 0 {
		t.Errorf("Load() = %+v", l)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}
