package builder

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExpandedSource is one compilation unit after preprocessing. Rewritten is
// empty when the file went through untouched.
type ExpandedSource struct {
	Original    string
	Rewritten   string
	IncludeDirs []string
}

// Preprocessor expands interception/hook syntax into plain source files
// before compilation. The transformation itself is opaque to the build core.
type Preprocessor interface {
	Expand(paths []string) ([]ExpandedSource, error)
}

// hookExts are the extensions routed through the preprocessor; everything
// else compiles as-is.
var hookExts = map[string]string{
	".x":  ".m",
	".xm": ".mm",
}

type execPreprocessor struct {
	bin    string
	outDir string
}

// NewExecPreprocessor returns a Preprocessor that pipes hook-syntax sources
// through the given processor binary, writing results under outDir.
func NewExecPreprocessor(bin, outDir string) Preprocessor {
	return &execPreprocessor{bin: bin, outDir: outDir}
}

func (p *execPreprocessor) Expand(paths []string) ([]ExpandedSource, error) {
	out := make([]ExpandedSource, 0, len(paths))
	for _, path := range paths {
		newExt, ok := hookExts[filepath.Ext(path)]
		if !ok {
			out = append(out, ExpandedSource{Original: path})
			continue
		}

		if err := os.MkdirAll(p.outDir, 0755); err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		rewritten := filepath.Join(p.outDir, base+newExt)

		f, err := os.Create(rewritten)
		if err != nil {
			return nil, err
		}
		cmd := exec.Command(p.bin, path)
		cmd.Stdout = f
		cmd.Stderr = os.Stderr
		runErr := cmd.Run()
		f.Close()
		if runErr != nil {
			return nil, fmt.Errorf("preprocessing %q: %w", path, runErr)
		}

		// the rewritten unit still references headers next to the original
		out = append(out, ExpandedSource{
			Original:    path,
			Rewritten:   rewritten,
			IncludeDirs: []string{filepath.Dir(path)},
		})
	}
	return out, nil
}
