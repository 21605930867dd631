package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lume-build/lume/internal/config"
)

// tweakVariant stages an injection library into the loader's registry
// directory and writes the filter descriptor declaring which host processes
// it attaches to.
type tweakVariant struct{}

func (tweakVariant) defaultInstallDir(m *Module) string {
	if m.proj.Cfg.Meta.Rootless {
		return "usr/lib/TweakInject"
	}
	return "Library/MobileSubstrate/DynamicLibraries"
}

func (tweakVariant) stage(m *Module) error {
	dest := m.stageDest()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return m.stepErr(StepStage, err)
	}
	if err := copyTree(m.outDir, dest); err != nil {
		return m.stepErr(StepStage, err)
	}

	descriptor := filepath.Join(dest, m.Name+".plist")
	if err := os.WriteFile(descriptor, []byte(filterText(m.cfg.Filter)), 0644); err != nil {
		return &BuildError{Module: m.Name, Step: StepStage, Path: descriptor, Err: err}
	}
	return nil
}

// filterText renders the loader filter descriptor.
func filterText(f config.Filter) string {
	var sb strings.Builder
	sb.WriteString("Filter = {\n")
	if len(f.Bundles) > 0 {
		fmt.Fprintf(&sb, "    Bundles = ( %s );\n", quoteList(f.Bundles))
	}
	if len(f.Executables) > 0 {
		fmt.Fprintf(&sb, "    Executables = ( %s );\n", quoteList(f.Executables))
	}
	sb.WriteString("};")
	return sb.String()
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = `"` + item + `"`
	}
	return strings.Join(quoted, ", ")
}
