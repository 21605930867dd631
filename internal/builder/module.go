package builder

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lume-build/lume/internal/config"
	"github.com/lume-build/lume/internal/msg"
	"github.com/lume-build/lume/internal/toolchain"
)

// State tracks a module through the build pipeline. Terminal states are
// StateStaged or one of the failure states; failed modules are reported and
// never retried within a run.
type State int

const (
	StatePending State = iota
	StateResolving
	StateCompiling
	StateCompileFailed
	StateCompiled
	StateLinking
	StateLinkFailed
	StateLinked
	StateStaging
	StateStageFailed
	StateStaged
)

var stateNames = map[State]string{
	StatePending:       "pending",
	StateResolving:     "resolving",
	StateCompiling:     "compiling",
	StateCompileFailed: "compile failed",
	StateCompiled:      "compiled",
	StateLinking:       "linking",
	StateLinkFailed:    "link failed",
	StateLinked:        "linked",
	StateStaging:       "staging",
	StateStageFailed:   "stage failed",
	StateStaged:        "staged",
}

func (s State) String() string { return stateNames[s] }

// SourceFile is one resolved compilation unit.
type SourceFile struct {
	// Original is the declared path; it is what gets hashed.
	Original string
	// Path is what the compiler sees: the preprocessor's rewritten file when
	// the source carried hook syntax, otherwise Original.
	Path string
	Lang toolchain.Language
	// NeedsCompile is decided during the hashing phase.
	NeedsCompile bool
}

// stem names this source's object slot inside an architecture directory.
// Basenames alone are not unique within a module (src/a.c and lib/a.c may
// both be listed), so a short hash of the declared path is appended; exactly
// one compile task owns each slot.
func (s *SourceFile) stem() string {
	sum := sha256.Sum256([]byte(s.Original))
	return fmt.Sprintf("%s-%x", filepath.Base(s.Path), sum[:4])
}

// variant supplies the per-type staging layout and default install location.
type variant interface {
	defaultInstallDir(m *Module) string
	stage(m *Module) error
}

// Module drives one build unit through resolve → compile → link → stage.
// Each stage is a hard barrier on the previous one; a failure short-circuits
// the remaining stages of this module only.
type Module struct {
	Name string
	Type config.ModuleType

	cfg     *config.Module
	proj    *Project
	variant variant
	state   State

	archs       []string
	objDir      string
	outDir      string
	installName string

	includeDirs   []string
	libraryDirs   []string
	frameworkDirs []string

	sources []*SourceFile
	// changed counts the files scheduled for compilation this run; zero
	// allows the link stage to be skipped when the artifact already exists.
	changed int
}

func newModule(name string, cfg *config.Module, proj *Project) (*Module, error) {
	m := &Module{
		Name: name,
		Type: config.ModuleType(cfg.Type),
		cfg:  cfg,
		proj: proj,
	}

	switch m.Type {
	case config.TypeTool:
		m.variant = toolVariant{}
		m.outDir = filepath.Join(proj.Dir, "bin", name)
		m.installName = name
	case config.TypeTweak:
		m.variant = tweakVariant{}
		m.outDir = filepath.Join(proj.Dir, "dylib", name)
		m.installName = name + ".dylib"
	case config.TypePreferences:
		m.variant = prefsVariant{}
		m.outDir = filepath.Join(proj.Dir, "dylib", name)
		m.installName = name + ".dylib"
	default:
		return nil, fmt.Errorf("module %q: unknown type %q", name, cfg.Type)
	}
	m.objDir = filepath.Join(proj.Dir, "obj", name)

	// a module's architectures must be a non-empty subset of the project's
	if len(cfg.Archs) == 0 {
		m.archs = proj.Cfg.Meta.Archs
	} else {
		for _, arch := range cfg.Archs {
			if !slices.Contains(proj.Cfg.Meta.Archs, arch) {
				return nil, fmt.Errorf("module %q: architecture %q is not in the project architecture set", name, arch)
			}
		}
		m.archs = dedupe(cfg.Archs)
	}

	return m, nil
}

// State reports the module's pipeline state; terminal after Build returns.
func (m *Module) State() State { return m.state }

func (m *Module) executable() bool { return m.Type == config.TypeTool }

// Build runs the whole per-module pipeline. The returned error is nil only
// when the module reached StateStaged.
func (m *Module) Build() error {
	m.state = StateResolving
	if err := m.resolve(); err != nil {
		return err
	}

	m.state = StateCompiling
	if err := m.compile(); err != nil {
		m.state = StateCompileFailed
		return err
	}
	m.state = StateCompiled

	m.state = StateLinking
	if err := m.link(); err != nil {
		m.state = StateLinkFailed
		return err
	}
	m.state = StateLinked

	m.state = StateStaging
	if err := m.stage(); err != nil {
		m.state = StateStageFailed
		return err
	}
	m.state = StateStaged
	return nil
}

// resolve expands the configured file patterns into concrete sources, routes
// hook-syntax files through the preprocessor, seeds search paths, and runs
// the hashing phase that decides which files compile this run.
func (m *Module) resolve() error {
	meta := &m.proj.Cfg.Meta

	m.includeDirs = slices.Clone(m.cfg.Include)
	m.libraryDirs = slices.Clone(m.cfg.LibraryDirs)
	m.frameworkDirs = slices.Clone(m.cfg.FrameworkDirs)

	if m.proj.fetch != nil {
		if dir, err := m.proj.fetch.HeaderDir(); err != nil {
			msg.Warn("module %q: shared headers unavailable: %v", m.Name, err)
		} else {
			m.includeDirs = append(m.includeDirs, dir)
		}
		if dir, err := m.proj.fetch.LibraryDir(); err != nil {
			msg.Warn("module %q: shared libraries unavailable: %v", m.Name, err)
		} else {
			m.libraryDirs = append(m.libraryDirs, dir)
			m.frameworkDirs = append(m.frameworkDirs, dir)
		}
	}

	if meta.SDK != "" {
		m.includeDirs = append(m.includeDirs, meta.SDK+"/usr/include")
		m.libraryDirs = append(m.libraryDirs, meta.SDK+"/usr/lib")
		m.frameworkDirs = append(m.frameworkDirs, meta.SDK+"/System/Library/Frameworks")
	}

	paths, err := m.globFiles()
	if err != nil {
		return m.stepErr(StepResolve, err)
	}

	expanded, err := m.proj.pre.Expand(paths)
	if err != nil {
		return m.stepErr(StepResolve, err)
	}

	hasSwift := false
	for _, src := range expanded {
		path := src.Rewritten
		if path == "" {
			path = src.Original
		}
		lang := toolchain.LangC
		if strings.HasSuffix(path, ".swift") {
			lang = toolchain.LangSwift
			hasSwift = true
		}
		for _, dir := range src.IncludeDirs {
			if !slices.Contains(m.includeDirs, dir) {
				m.includeDirs = append(m.includeDirs, dir)
			}
		}
		m.sources = append(m.sources, &SourceFile{Original: src.Original, Path: path, Lang: lang})
	}

	if hasSwift {
		m.libraryDirs = append(m.libraryDirs, "/usr/lib/swift")
		if meta.SDK != "" {
			m.libraryDirs = append(m.libraryDirs, meta.SDK+"/usr/lib/swift")
		}
	}

	if len(m.cfg.PrivateFwks) > 0 {
		pf := meta.SDK + "/System/Library/PrivateFrameworks"
		if _, err := os.Stat(pf); err != nil {
			return m.stepErr(StepResolve, fmt.Errorf("private frameworks are not available in the configured SDK (%s)", meta.SDK))
		}
		m.frameworkDirs = append(m.frameworkDirs, pf)
	}

	for _, dir := range []string{m.objDir, m.outDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return m.stepErr(StepResolve, err)
		}
	}

	return m.hashSources()
}

func (m *Module) globFiles() ([]string, error) {
	var paths []string
	fsys := os.DirFS(m.proj.Path)
	for _, pat := range m.cfg.Files {
		if filepath.IsAbs(pat) {
			paths = append(paths, filepath.Clean(pat))
			continue
		}
		matches, err := doublestar.Glob(fsys, pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad file pattern %q: %w", pat, err)
		}
		for _, match := range matches {
			paths = append(paths, filepath.Join(m.proj.Path, match))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no source files matched %v", m.cfg.Files)
	}
	return paths, nil
}

// hashSources runs the change-detection pass over every source and flushes
// the cache before any compilation starts. A file recompiles when its hash is
// new or differs, or when a previous interrupted build left fewer
// per-architecture objects than expected. The cache entry is refreshed
// unconditionally either way.
func (m *Module) hashSources() error {
	archCount := len(m.archs)
	for _, src := range m.sources {
		hash, err := hashFile(src.Original)
		if err != nil {
			return m.stepErr(StepResolve, fmt.Errorf("hashing %q: %w", src.Original, err))
		}
		changed := m.proj.cache.Refresh(src.Original, hash)
		if !changed {
			objs, _ := doublestar.FilepathGlob(filepath.Join(m.objDir, "*", src.stem()+"-*.o"))
			if len(objs) < archCount {
				changed = true
			}
		}
		src.NeedsCompile = changed || !m.cfg.OnlyCompileChanged()
		if src.NeedsCompile {
			m.changed++
		}
	}

	if err := m.proj.cache.Flush(); err != nil {
		return m.stepErr(StepResolve, fmt.Errorf("flushing hash cache: %w", err))
	}
	return nil
}

// optLevel resolves the module's optimization level, falling back to the
// project-wide one.
func (m *Module) optLevel() string {
	if s := m.cfg.Optimization.String(); s != "" {
		return s
	}
	return m.proj.Cfg.Meta.Optimization.String()
}

func (m *Module) warningFlags() []string {
	if len(m.cfg.Warnings) > 0 {
		return m.cfg.Warnings
	}
	return m.proj.Cfg.Meta.Warnings
}

// target formats the compiler target triple for one architecture.
func (m *Module) target(arch string) string {
	meta := &m.proj.Cfg.Meta
	platform := meta.Platform
	if platform == "iphoneos" {
		platform = "ios"
	}
	return fmt.Sprintf("%s-apple-%s%s", arch, platform, meta.MinVers)
}

func (m *Module) compileFlags(lang toolchain.Language, arch string) []string {
	meta := &m.proj.Cfg.Meta
	var flags []string

	switch lang {
	case toolchain.LangSwift:
		flags = append(flags, "-module-name", m.Name, "-sdk", meta.SDK)
		for _, dir := range m.includeDirs {
			flags = append(flags, "-I"+dir)
		}
		for _, h := range m.cfg.BridgingHeaders {
			flags = append(flags, "-import-objc-header", h)
		}
		flags = append(flags, "-target", m.target(arch))
		if !meta.Release {
			flags = append(flags, "-g")
		}
		flags = append(flags, m.cfg.SwiftFlags...)
	default:
		if m.cfg.ARC() {
			flags = append(flags, "-fobjc-arc")
		}
		flags = append(flags, "-isysroot", meta.SDK)
		flags = append(flags, m.warningFlags()...)
		flags = append(flags, "-O"+m.optLevel())
		flags = append(flags, "-target", m.target(arch))
		for _, dir := range m.includeDirs {
			flags = append(flags, "-I"+dir)
		}
		flags = append(flags, fmt.Sprintf("-m%s-version-min=%s", meta.Platform, meta.MinVers))
		if !meta.Release {
			flags = append(flags, "-g")
		}
		flags = append(flags, m.cfg.CFlags...)
	}
	return flags
}

// installDir is the install location relative to the (possibly relocated)
// filesystem root.
func (m *Module) installDir() string {
	if m.cfg.InstallDir != "" {
		return strings.TrimPrefix(m.cfg.InstallDir, "/")
	}
	return m.variant.defaultInstallDir(m)
}

// stage copies the finished artifact into the package root, running the
// configured hooks synchronously around the variant-specific layout.
func (m *Module) stage() error {
	msg.Module(m.Name, "staging...")

	if m.cfg.InstallDir != "" && m.proj.Cfg.Meta.Rootless {
		msg.Warn("module %q: custom install directory with rootless enabled, prefixing with /var/jb", m.Name)
	}

	if script := m.cfg.BeforeStage; script != "" {
		if err := m.proj.env.RunScript("before-stage", script); err != nil {
			return m.stepErr(StepStage, err)
		}
	}

	if err := m.variant.stage(m); err != nil {
		return err
	}

	if script := m.cfg.AfterStage; script != "" {
		if err := m.proj.env.RunScript("after-stage", script); err != nil {
			return m.stepErr(StepStage, err)
		}
	}
	return nil
}

// stageDest is the absolute staging path of the module's install directory.
func (m *Module) stageDest() string {
	return filepath.Join(m.proj.stageRoot, m.proj.rootPrefix(), m.installDir())
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
