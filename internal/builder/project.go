package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/lume-build/lume/internal/config"
	"github.com/lume-build/lume/internal/deps"
	"github.com/lume-build/lume/internal/msg"
	"github.com/lume-build/lume/internal/pack"
	"github.com/lume-build/lume/internal/toolchain"
	"golang.org/x/sync/errgroup"
)

// BuildDirName is the per-project scratch directory, created next to the
// configuration file.
const BuildDirName = ".lume"

// SearchDirs supplies the shared header and library checkouts that every
// module's search path is seeded from.
type SearchDirs interface {
	HeaderDir() (string, error)
	LibraryDir() (string, error)
}

// Options adjusts a build run. The zero value is a normal debug build using
// the discovered host toolchain.
type Options struct {
	Clean       bool
	Release     bool
	Compression string

	// Toolchain, Preprocessor and Fetcher override the production
	// collaborators when set.
	Toolchain    toolchain.Driver
	Preprocessor Preprocessor
	Fetcher      SearchDirs
}

// Project is one directory with a Lume.toml: its modules, its scratch state,
// and the collaborators shared by every module build. Sub-projects are
// Projects of their own that stage into the root's package tree.
type Project struct {
	Path string
	Dir  string
	Cfg  *config.Config

	env   config.Env
	cache *Cache
	tools toolchain.Driver
	pre   Preprocessor
	fetch SearchDirs

	// session distinguishes this run's object files from leftovers of
	// earlier runs sharing the object directories.
	session   string
	stageRoot string

	modules     []*Module
	subprojects []*Project
}

// NewProject loads the configuration at path and prepares the full project
// tree, sub-projects included, without building anything.
func NewProject(path string, opts Options) (*Project, error) {
	return newProject(path, opts, nil)
}

func newProject(path string, opts Options, parent *Project) (*Project, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(path, config.Filename))
	if err != nil {
		return nil, err
	}

	// Parsing may evaluate conditional sections, which need an environment
	// before the [meta] values are known. Parse with a provisional one built
	// from the inherited (or default) values, then rebuild it from the final
	// configuration below.
	var inherit *config.Meta
	provisional := config.NewEnv(path, "iphoneos", true, opts.Release)
	if parent != nil {
		inherit = &parent.Cfg.Meta
		provisional = config.NewEnv(path, inherit.Platform, inherit.Rootless, inherit.Release || opts.Release)
	}

	cfg, err := config.Parse(data, provisional, inherit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Join(path, config.Filename), err)
	}
	if opts.Release {
		cfg.Meta.Release = true
	}
	if opts.Compression != "" {
		cfg.Meta.Compression = opts.Compression
	}
	cfg.Meta.Archs = dedupe(cfg.Meta.Archs)
	if len(cfg.Meta.Archs) == 0 {
		return nil, errors.New("meta.archs must name at least one architecture")
	}

	p := &Project{
		Path: path,
		Dir:  filepath.Join(path, BuildDirName),
		Cfg:  cfg,
		env:  config.NewEnv(path, cfg.Meta.Platform, cfg.Meta.Rootless, cfg.Meta.Release),
	}

	if opts.Clean {
		if err := os.RemoveAll(p.Dir); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return nil, err
	}

	if parent != nil {
		p.session = parent.session
		p.stageRoot = parent.stageRoot
	} else {
		p.session = uuid.NewString()[:8]
		p.stageRoot = filepath.Join(p.Dir, "_")
	}

	p.cache, err = LoadCache(filepath.Join(p.Dir, "hashes.json"))
	if err != nil {
		return nil, fmt.Errorf("loading hash cache: %w", err)
	}

	if err := p.setupCollaborators(opts); err != nil {
		return nil, err
	}

	for _, name := range cfg.ModuleOrder {
		mod, err := newModule(name, cfg.Modules[name], p)
		if err != nil {
			return nil, err
		}
		p.modules = append(p.modules, mod)
	}

	for _, sub := range cfg.Submodules {
		sp, err := newProject(filepath.Join(path, sub), opts, p)
		if err != nil {
			return nil, fmt.Errorf("sub-project %q: %w", sub, err)
		}
		p.subprojects = append(p.subprojects, sp)
	}

	return p, nil
}

func (p *Project) setupCollaborators(opts Options) error {
	meta := &p.Cfg.Meta

	if opts.Toolchain != nil {
		p.tools = opts.Toolchain
	} else {
		tc, err := toolchain.Discover(meta.Prefix, meta.CC, meta.Swift)
		if err != nil {
			return err
		}
		tc.Stdout = &msg.IndentWriter{Indent: "    ", W: os.Stdout}
		tc.Stderr = &msg.IndentWriter{Indent: "    ", W: os.Stderr}
		p.tools = tc

		if meta.SDK == "" {
			sdk, err := toolchain.FindSDK(meta.Prefix, meta.Platform)
			if err != nil {
				return err
			}
			meta.SDK = sdk
		} else if _, err := os.Stat(meta.SDK); err != nil {
			return fmt.Errorf("configured sdk %q does not exist", meta.SDK)
		}
	}

	if opts.Preprocessor != nil {
		p.pre = opts.Preprocessor
	} else {
		bin, err := toolchain.Find(meta.Prefix, meta.Preprocessor)
		if err != nil {
			// resolved lazily by the OS if a module actually needs it
			bin = meta.Preprocessor
		}
		p.pre = NewExecPreprocessor(bin, filepath.Join(p.Dir, "preprocessed"))
	}

	if opts.Fetcher != nil {
		p.fetch = opts.Fetcher
	} else {
		storage, err := deps.DefaultStorage()
		if err != nil {
			msg.Warn("no cache directory available, shared headers and libraries are disabled: %v", err)
		} else {
			p.fetch = deps.NewFetcher(storage, meta.HeadersRepo, meta.LibrariesRepo)
		}
	}

	return nil
}

// Modules exposes the project's modules in declaration order.
func (p *Project) Modules() []*Module { return p.modules }

// rootPrefix is prepended to every install directory when staging. Rootless
// targets relocate the whole filesystem hierarchy under /var/jb.
func (p *Project) rootPrefix() string {
	if p.Cfg.Meta.Rootless {
		return filepath.Join("var", "jb")
	}
	return ""
}

// relPath shortens a path for log output.
func (p *Project) relPath(path string) string {
	if rel, err := filepath.Rel(p.Path, path); err == nil && !filepath.IsAbs(rel) {
		return rel
	}
	return path
}

// Build runs every module of this project and then every sub-project. Module
// builds of one project run concurrently; all of them run to completion and
// the collected failures are returned together.
func (p *Project) Build() []error {
	results := make([]error, len(p.modules))

	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for i, mod := range p.modules {
		eg.Go(func() error {
			results[i] = mod.Build()
			return nil
		})
	}
	eg.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, sp := range p.subprojects {
		errs = append(errs, sp.Build()...)
	}
	return errs
}

// BuildAndPackage builds the whole project tree and assembles the staged
// output into a deb under .lume/packages.
func (p *Project) BuildAndPackage() error {
	start := time.Now()

	if errs := p.Build(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	// static payload files override nothing; they are laid over the staged
	// modules the same way the modules themselves are
	layout := filepath.Join(p.Path, "layout")
	if info, err := os.Stat(layout); err == nil && info.IsDir() {
		if err := copyTree(layout, filepath.Join(p.stageRoot, p.rootPrefix())); err != nil {
			return fmt.Errorf("copying layout: %w", err)
		}
	}

	debian := filepath.Join(p.stageRoot, "DEBIAN")
	if err := os.MkdirAll(debian, 0755); err != nil {
		return err
	}
	control := config.ControlText(p.Cfg.Control)
	if err := os.WriteFile(filepath.Join(debian, "control"), []byte(control), 0644); err != nil {
		return err
	}

	pkgDir := filepath.Join(p.Dir, "packages")
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		return err
	}
	out := filepath.Join(pkgDir, p.packageName())

	if err := pack.Assemble(p.stageRoot, out, p.Cfg.Meta.Compression); err != nil {
		return err
	}

	msg.Info("built %s in %s", p.relPath(out), time.Since(start).Round(time.Millisecond))
	return nil
}

// packageName derives <id>_<version>_<architecture>.deb from the control
// section, falling back to sensible values for any missing field.
func (p *Project) packageName() string {
	field := func(keys []string, fallback string) string {
		for _, key := range keys {
			if v, ok := p.Cfg.Control[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
		return fallback
	}

	arch := "iphoneos-arm"
	if p.Cfg.Meta.Rootless {
		arch = "iphoneos-arm64"
	}

	id := field([]string{"id", "package"}, filepath.Base(p.Path))
	version := field([]string{"version"}, "1.0.0")
	return fmt.Sprintf("%s_%s_%s.deb", id, version, field([]string{"architecture"}, arch))
}
