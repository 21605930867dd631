package builder

import (
	"errors"
	"os"
	"path/filepath"
)

// prefsVariant stages a preference bundle: the linked library plus the
// project's Resources directory merged into one bundle directory.
type prefsVariant struct{}

func (prefsVariant) defaultInstallDir(m *Module) string {
	return filepath.Join("Library/PreferenceBundles", m.Name+".bundle")
}

func (prefsVariant) stage(m *Module) error {
	// checked before anything is copied, so a failure never leaves a
	// partial bundle behind
	resources := filepath.Join(m.proj.Path, "Resources")
	if info, err := os.Stat(resources); err != nil || !info.IsDir() {
		return &BuildError{Module: m.Name, Step: StepStage, Path: resources,
			Err: errors.New("required Resources directory is missing")}
	}

	dest := m.stageDest()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return m.stepErr(StepStage, err)
	}
	if err := copyTree(m.outDir, dest); err != nil {
		return m.stepErr(StepStage, err)
	}
	if err := copyTree(resources, dest); err != nil {
		return m.stepErr(StepStage, err)
	}
	return nil
}
