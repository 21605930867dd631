package builder

import (
	"fmt"
	"strings"
)

// Step names the pipeline stage an error came from, so multi-module
// multi-architecture failures stay attributable.
type Step string

const (
	StepConfigure Step = "configure"
	StepResolve   Step = "resolve"
	StepCompile   Step = "compile"
	StepLink      Step = "link"
	StepMerge     Step = "merge"
	StepStrip     Step = "strip"
	StepRPath     Step = "rpath"
	StepSign      Step = "sign"
	StepStage     Step = "stage"
)

// BuildError attributes a failure to a module, a pipeline step, and when
// known the file and architecture involved.
type BuildError struct {
	Module string
	Step   Step
	File   string
	Arch   string
	Path   string
	Err    error
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %q: %s failed", e.Module, e.Step)
	if e.File != "" {
		fmt.Fprintf(&sb, " for %q", e.File)
	}
	if e.Arch != "" {
		fmt.Fprintf(&sb, " (arch %s)", e.Arch)
	}
	if e.Path != "" {
		fmt.Fprintf(&sb, " on %q", e.Path)
	}
	fmt.Fprintf(&sb, ": %v", e.Err)
	return sb.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

func (m *Module) stepErr(step Step, err error) *BuildError {
	return &BuildError{Module: m.Name, Step: step, Err: err}
}
