// Package testcase is the "run one test, return a result" primitive. It knows
// nothing about processes: the worker calls Run inside an isolated process and
// the supervisor only ever sees the returned Outcome.
package testcase

import (
	"encoding/json"
	"fmt"
)

// Outcome is the result of one test
type Outcome uint32

const (
	Pass Outcome = iota
	Fail
	Skip
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("outcome(%d)", uint32(o))
	}
}

// Valid reports whether o is one of Pass, Fail or Skip
func (o Outcome) Valid() bool {
	return o <= Skip
}

// ParseOutcome converts a tag produced by String back into an Outcome
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "pass":
		return Pass, nil
	case "fail":
		return Fail, nil
	case "skip":
		return Skip, nil
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// BehaviorFlags configure how a test executes. They are fixed when a worker
// is spawned and never change for the life of that worker.
type BehaviorFlags struct {
	CaptureImages               bool   `json:"capture_images,omitempty" toml:"capture_images"`
	SkipCleanupPhase            bool   `json:"skip_cleanup_phase,omitempty" toml:"skip_cleanup_phase"`
	PreferAlternateShaderFormat bool   `json:"prefer_alternate_shader_format,omitempty" toml:"prefer_alternate_shader_format"`
	UseSeparateCleanupExecution bool   `json:"use_separate_cleanup_execution,omitempty" toml:"use_separate_cleanup_execution"`
	DumpDir                     string `json:"dump_dir,omitempty" toml:"dump_dir"`
}

// Encode renders the flags as a single environment value
func (f BehaviorFlags) Encode() string {
	data, err := json.Marshal(f)
	if err != nil {
		// Only bools and a string; cannot fail.
		panic(err)
	}
	return string(data)
}

// DecodeBehavior parses a value produced by Encode. An empty string yields
// the zero flags.
func DecodeBehavior(s string) (BehaviorFlags, error) {
	var f BehaviorFlags
	if s == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return f, fmt.Errorf("decoding behavior flags: %w", err)
	}
	return f, nil
}
