package builder

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lume-build/lume/internal/msg"
)

// link produces one single-architecture binary per architecture, merges them
// into the final multi-architecture artifact, then runs the post-link chain:
// strip (executables, release only), run-path patch, sign. Each post-link
// step is independently fallible and aborts the remaining ones.
func (m *Module) link() error {
	meta := &m.proj.Cfg.Meta
	artifact := filepath.Join(m.outDir, m.installName)

	// link-level cache hit, independent of the per-file cache
	if m.changed == 0 {
		if _, err := os.Stat(artifact); err == nil {
			msg.Module(m.Name, "artifact up to date, skipping link")
			return nil
		}
	}

	msg.Module(m.Name, "linking %q...", m.installName)

	base := m.linkFlags()
	perArch := make([]string, 0, len(m.archs))
	for _, arch := range m.archs {
		objs, err := doublestar.FilepathGlob(filepath.Join(m.objDir, arch, "*.o"))
		if err == nil && len(objs) == 0 {
			err = errors.New("no objects to link")
		}
		if err != nil {
			return &BuildError{Module: m.Name, Step: StepLink, Arch: arch, Err: err}
		}
		slices.Sort(objs)

		out := filepath.Join(m.objDir, arch, m.installName)
		flags := append(slices.Clone(base), "-target", m.target(arch))
		if err := m.proj.tools.LinkObjects(objs, flags, out); err != nil {
			return &BuildError{Module: m.Name, Step: StepLink, Arch: arch, Path: out, Err: err}
		}
		perArch = append(perArch, out)
	}

	// merge runs even for a single architecture, for uniformity
	if err := m.proj.tools.Merge(perArch, artifact); err != nil {
		return &BuildError{Module: m.Name, Step: StepMerge, Path: artifact, Err: err}
	}

	if m.executable() && meta.Release {
		if err := m.proj.tools.Strip(artifact); err != nil {
			return &BuildError{Module: m.Name, Step: StepStrip, Path: artifact, Err: err}
		}
	}

	runPath := "/" + path.Join(m.proj.rootPrefix(), "Library/Frameworks") + "/"
	if err := m.proj.tools.AddRunPath(artifact, runPath); err != nil {
		return &BuildError{Module: m.Name, Step: StepRPath, Path: artifact, Err: err}
	}

	if err := m.proj.tools.Sign(artifact, m.signFlags()); err != nil {
		return &BuildError{Module: m.Name, Step: StepSign, Path: artifact, Err: err}
	}

	return nil
}

func (m *Module) linkFlags() []string {
	meta := &m.proj.Cfg.Meta
	var flags []string

	if m.cfg.ARC() {
		flags = append(flags, "-fobjc-arc")
	}
	flags = append(flags, "-isysroot", meta.SDK)
	flags = append(flags, "-O"+m.optLevel())
	for _, dir := range m.includeDirs {
		flags = append(flags, "-I"+dir)
	}
	for _, dir := range m.libraryDirs {
		flags = append(flags, "-L"+dir)
	}
	for _, dir := range m.frameworkDirs {
		flags = append(flags, "-F"+dir)
	}
	for _, lib := range m.cfg.Libraries {
		flags = append(flags, "-l"+lib)
	}
	for _, fw := range m.cfg.Frameworks {
		flags = append(flags, "-framework", fw)
	}
	for _, fw := range m.cfg.PrivateFwks {
		flags = append(flags, "-framework", fw)
	}
	flags = append(flags, fmt.Sprintf("-m%s-version-min=%s", meta.Platform, meta.MinVers))
	if !meta.Release {
		flags = append(flags, "-g")
	}

	if !m.executable() {
		prefix := m.proj.rootPrefix()
		installName := "/" + path.Join(prefix, m.installDir(), m.installName)
		flags = append(flags, "-dynamiclib",
			fmt.Sprintf("-Wl,-install_name,%s,-rpath,%s,-rpath,%s",
				installName,
				"/"+path.Join(prefix, "usr/lib")+"/",
				"/"+path.Join(prefix, "Library/Frameworks")+"/"))
	}

	flags = append(flags, m.cfg.LinkerFlags...)
	return flags
}

// signFlags builds the entitlement argument for the signer; the flag and the
// entitlement file are concatenated the way the signer expects.
func (m *Module) signFlags() []string {
	meta := &m.proj.Cfg.Meta
	entflag := m.cfg.EntFlag
	if entflag == "" {
		entflag = meta.EntFlag
	}
	entfile := m.cfg.EntFile
	if entfile == "" {
		entfile = meta.EntFile
	}
	return []string{entflag + entfile}
}
