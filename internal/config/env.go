package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Env is the environment visible to {{...}} expressions, conditional section
// keys, and before/after-stage hook scripts. Its exported methods are
// callable from scripts.
type Env struct {
	Platform string            `expr:"platform"`
	Rootless bool              `expr:"rootless"`
	Release  bool              `expr:"release"`
	Environ  map[string]string `expr:"environ"`
	basedir  string
}

func NewEnv(basedir, platform string, rootless, release bool) Env {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return Env{
		Platform: platform,
		Rootless: rootless,
		Release:  release,
		Environ:  environ,
		basedir:  basedir,
	}
}

// RunScript compiles and runs a hook script. A script must evaluate to true;
// anything else is treated as the hook aborting the stage.
func (env Env) RunScript(name, script string) error {
	program, err := expr.Compile(script, expr.Env(env))
	if err != nil {
		return fmt.Errorf("failed to compile %s script: %w", name, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("failed to run %s script: %w", name, err)
	}

	if result, ok := result.(bool); !ok || !result {
		return fmt.Errorf("%s script returned false\n%s", name, script)
	}

	return nil
}

// Patch applies a unified patch to a file inside the project directory.
// Returns whether anything was applied.
func (env Env) Patch(path, patchText string) bool {
	fullPath := filepath.Join(env.basedir, path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}
	origText := string(data)

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		panic(err)
	}
	patchedText, results := dmp.PatchApply(patches, origText)
	for _, ok := range results {
		if ok {
			goto applied
		}
	}
	return false // nothing was applied, nothing to write

applied:
	err = os.WriteFile(fullPath, []byte(patchedText), 0644)
	if err != nil {
		panic(err)
	}

	return true
}

func (env Env) ReadFile(path string) (string, error) {
	fullPath := filepath.Join(env.basedir, path)
	_, err := filepath.Rel(env.basedir, fullPath)
	if err != nil {
		panic(fmt.Sprintf("path %q is outside of project directory %q", path, env.basedir))
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}

	return string(data), nil
}
