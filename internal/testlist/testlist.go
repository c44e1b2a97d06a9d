// Package testlist reads YAML files that select which tests a run enables:
//
//	include:
//	  - "io.*"
//	  - "gpu.draw.**"
//	exclude:
//	  - "io.slow*"
//
// An empty include list means every normal test.
package testlist

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/crucible-runner/internal/registry"
)

// List is a set of include and exclude globs
type List struct {
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// Parse decodes a test list. Unknown keys are rejected so typos do not
// silently select everything.
func Parse(data []byte) (*List, error) {
	var l List
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return &l, nil
		}
		return nil, fmt.Errorf("parsing test list: %w", err)
	}
	return &l, nil
}

// Load reads a test list from a file
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading test list: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// FromNames builds a list that includes exactly the named tests
func FromNames(names []string) *List {
	return &List{Include: append([]string(nil), names...)}
}

// Save writes the list as YAML
func (l *List) Save(path string) error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Apply enables the selected tests in reg and returns how many are enabled
// afterwards. It only adds to and removes from the current selection.
func (l *List) Apply(reg *registry.Registry) (int, error) {
	if len(l.Include) == 0 {
		reg.EnableAllNormal()
	} else if _, err := reg.EnableMatching(l.Include); err != nil {
		return 0, err
	}
	if _, err := reg.DisableMatching(l.Exclude); err != nil {
		return 0, err
	}
	return reg.NumEnabled(), nil
}
