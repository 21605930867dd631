package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lume-build/lume/internal/msg"
	"github.com/lume-build/lume/internal/toolchain"
	"golang.org/x/sync/errgroup"
)

type compileTask struct {
	src  *SourceFile
	arch string
}

// compile fans out one task per (file, architecture) on a pool sized to this
// module's fan-out width. Tasks mostly block on the external compiler, so the
// pool scales with the fan-out rather than core count. Every task runs to
// completion; failures are collected and reported together at the barrier so
// on-disk state stays consistent even on partial failure.
func (m *Module) compile() error {
	var tasks []compileTask
	for _, src := range m.sources {
		if !src.NeedsCompile {
			continue
		}
		for _, arch := range m.archs {
			tasks = append(tasks, compileTask{src: src, arch: arch})
		}
	}

	if len(tasks) == 0 {
		msg.Module(m.Name, "nothing to compile")
		return nil
	}

	for _, arch := range m.archs {
		if err := os.MkdirAll(filepath.Join(m.objDir, arch), 0755); err != nil {
			return m.stepErr(StepCompile, err)
		}
	}

	results := make([]error, len(tasks))
	var eg errgroup.Group
	eg.SetLimit(len(tasks))
	for i, task := range tasks {
		eg.Go(func() error {
			results[i] = m.compileUnit(task.src, task.arch)
			return nil
		})
	}
	eg.Wait() // barrier: linking may not start before every task finished

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// compileUnit compiles one source for one architecture. Stale output
// fragments from a previous interrupted attempt are deleted first so a
// retried build never picks up a half-written object.
func (m *Module) compileUnit(src *SourceFile, arch string) error {
	archDir := filepath.Join(m.objDir, arch)
	clearStale(archDir, src.stem())

	out := filepath.Join(archDir, fmt.Sprintf("%s-%s.o", src.stem(), m.proj.session))

	// cross-referencing units are compiled with their peers as context
	var peers []string
	if src.Lang == toolchain.LangSwift {
		for _, other := range m.sources {
			if other != src && other.Lang == toolchain.LangSwift {
				peers = append(peers, other.Path)
			}
		}
	}

	msg.Module(m.Name, "compiling %q (%s)", m.proj.relPath(src.Original), arch)
	if err := m.proj.tools.CompileUnit(src.Lang, src.Path, peers, m.compileFlags(src.Lang, arch), out); err != nil {
		return &BuildError{Module: m.Name, Step: StepCompile, File: src.Original, Arch: arch, Err: err}
	}
	return nil
}

// clearStale glob-deletes everything a previous run may have emitted for a
// file stem in one architecture directory (objects and interface artifacts).
func clearStale(dir, stem string) {
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, stem+"-*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		os.RemoveAll(path)
	}
}
