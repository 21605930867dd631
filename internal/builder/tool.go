package builder

import (
	"os"
	"path/filepath"
)

// toolVariant stages a linked executable into a binary install path.
type toolVariant struct{}

func (toolVariant) defaultInstallDir(m *Module) string { return "usr/bin" }

func (toolVariant) stage(m *Module) error {
	dest := m.stageDest()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return m.stepErr(StepStage, err)
	}
	if err := copyTree(m.outDir, dest); err != nil {
		return m.stepErr(StepStage, err)
	}
	return nil
}
