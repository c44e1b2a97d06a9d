// Package registry holds the ordered set of test definitions a run draws from.
// The runner only flips the enabled flag; test content is owned by whoever
// registered it.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar"

	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// Tests under these prefixes only run when a pattern names the prefix explicitly.
const (
	ExamplePrefix = "example."
	SelfPrefix    = "self."
)

// Definition identifies one test. ID is the registration index and is stable
// for the life of the process, so a worker spawned from the same binary
// resolves the same ID to the same test.
type Definition struct {
	ID   uint64
	Name string
	Skip bool
	Run  testcase.Func

	enabled bool
}

// Enabled reports whether the test takes part in the next run
func (d *Definition) Enabled() bool { return d.enabled }

// Option customizes a definition at registration
type Option func(*Definition)

// WithSkip marks a test as skipped by its author. It is reported as SKIP
// without being dispatched.
func WithSkip() Option {
	return func(d *Definition) { d.Skip = true }
}

// Registry is an ordered collection of definitions
type Registry struct {
	mu         sync.Mutex
	defs       []*Definition
	byName     map[string]*Definition
	numEnabled int
	frozen     bool
}

// New returns an empty registry
func New() *Registry {
	return &Registry{byName: make(map[string]*Definition)}
}

// Default is populated by init functions of test packages
var Default = New()

// Register adds a test to the Default registry
func Register(name string, fn testcase.Func, opts ...Option) *Definition {
	return Default.Register(name, fn, opts...)
}

// Register appends a definition. Duplicate names are a programming error.
func (r *Registry) Register(name string, fn testcase.Func, opts ...Option) *Definition {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		panic("registry: empty test name")
	}
	if _, dup := r.byName[name]; dup {
		panic(fmt.Sprintf("registry: duplicate test %q", name))
	}

	def := &Definition{ID: uint64(len(r.defs)), Name: name, Run: fn}
	for _, opt := range opts {
		opt(def)
	}
	r.defs = append(r.defs, def)
	r.byName[name] = def
	return def
}

// All returns the definitions in registration order
func (r *Registry) All() []*Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Len returns the number of registered definitions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.defs)
}

// Lookup returns the definition with the given ID, or nil
func (r *Registry) Lookup(id uint64) *Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id >= uint64(len(r.defs)) {
		return nil
	}
	return r.defs[id]
}

// Find returns the definition with the given name, or nil
func (r *Registry) Find(name string) *Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// NumEnabled returns the number of enabled definitions
func (r *Registry) NumEnabled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numEnabled
}

// Freeze forbids enable/disable changes until Thaw. The supervisor freezes
// the registry for the duration of a run.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Thaw re-allows enable/disable changes
func (r *Registry) Thaw() {
	r.mu.Lock()
	r.frozen = false
	r.mu.Unlock()
}

// Enable marks a definition to run
func (r *Registry) Enable(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setEnabled(def, true)
}

// Disable removes a definition from the next run
func (r *Registry) Disable(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setEnabled(def, false)
}

func (r *Registry) setEnabled(def *Definition, on bool) {
	if r.frozen {
		panic("registry: enabled flags changed during a run")
	}
	if def.enabled == on {
		return
	}
	def.enabled = on
	if on {
		r.numEnabled++
	} else {
		r.numEnabled--
	}
}

// DisableAll clears the selection
func (r *Registry) DisableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range r.defs {
		r.setEnabled(def, false)
	}
}

// EnableAllNormal enables every test except example and self tests
func (r *Registry) EnableAllNormal() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, def := range r.defs {
		if IsSpecial(def.Name) {
			continue
		}
		r.setEnabled(def, true)
		n++
	}
	return n
}

// EnableMatching enables every test matching at least one glob and returns
// how many tests matched.
func (r *Registry) EnableMatching(globs []string) (int, error) {
	return r.applyMatching(globs, true)
}

// DisableMatching disables every test matching at least one glob
func (r *Registry) DisableMatching(globs []string) (int, error) {
	return r.applyMatching(globs, false)
}

func (r *Registry) applyMatching(globs []string, on bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, def := range r.defs {
		for _, glob := range globs {
			ok, err := Match(def, glob)
			if err != nil {
				return n, err
			}
			if ok {
				r.setEnabled(def, on)
				n++
				break
			}
		}
	}
	return n, nil
}

// Match reports whether the test name matches the glob. Example and self
// tests match only globs that begin with the same literal prefix, so a plain
// "*" never pulls them into a normal run.
func Match(def *Definition, glob string) (bool, error) {
	for _, prefix := range []string{ExamplePrefix, SelfPrefix} {
		if strings.HasPrefix(def.Name, prefix) && !strings.HasPrefix(glob, prefix) {
			return false, nil
		}
	}

	ok, err := doublestar.Match(glob, def.Name)
	if err != nil {
		return false, fmt.Errorf("bad pattern %q: %w", glob, err)
	}
	return ok, nil
}

// IsSpecial reports whether name carries a prefix that keeps it out of
// normal runs.
func IsSpecial(name string) bool {
	return strings.HasPrefix(name, ExamplePrefix) || strings.HasPrefix(name, SelfPrefix)
}
