// Package toolchain wraps the external binary tools a build drives: the
// compilers, the linker driver, and the post-link utilities. The build core
// only sees the Driver interface; every tool is an opaque invocation that
// either produces its output file or fails.
package toolchain

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Language int

const (
	LangC Language = iota
	LangSwift
)

// Driver is the set of toolchain operations the build pipeline needs.
type Driver interface {
	// CompileUnit compiles one unit to an object file. For LangSwift the
	// peers are passed as cross-referencing context and a module interface
	// artifact is emitted next to the object.
	CompileUnit(lang Language, primary string, peers []string, flags []string, outPath string) error
	// LinkObjects links object files into one single-architecture binary.
	LinkObjects(objects []string, flags []string, outPath string) error
	// Merge combines single-architecture binaries into one multi-architecture
	// binary.
	Merge(perArchPaths []string, outPath string) error
	// Sign code-signs a binary with the given entitlement flags.
	Sign(path string, flags []string) error
	// AddRunPath adds a dynamic-loader run path to a linked binary.
	AddRunPath(path, runPath string) error
	// Strip removes debug symbols from a linked binary.
	Strip(path string) error
}

// Exec is the production Driver, invoking the Darwin cross tools as child
// processes.
type Exec struct {
	CC              string
	Swift           string
	Lipo            string
	Ldid            string
	InstallNameTool string
	StripBin        string

	Stdout io.Writer
	Stderr io.Writer
}

// Discover resolves every tool binary, preferring prefix/<name> over $PATH
// when a toolchain prefix directory is configured.
func Discover(prefix, cc, swift string) (*Exec, error) {
	tc := &Exec{Stdout: os.Stdout, Stderr: os.Stderr}

	for _, tool := range []struct {
		dst  *string
		name string
	}{
		{&tc.CC, cc},
		{&tc.Swift, swift},
		{&tc.Lipo, "lipo"},
		{&tc.Ldid, "ldid"},
		{&tc.InstallNameTool, "install_name_tool"},
		{&tc.StripBin, "strip"},
	} {
		path, err := Find(prefix, tool.name)
		if err != nil {
			return nil, err
		}
		*tool.dst = path
	}

	return tc, nil
}

// Find locates a tool binary under the prefix dir, falling back to $PATH.
func Find(prefix, name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("tool %q not found: %w", name, err)
		}
		return name, nil
	}
	if prefix != "" {
		candidate := filepath.Join(prefix, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("could not find %q in toolchain prefix or PATH", name)
	}
	return path, nil
}

// FindSDK asks xcrun for the platform SDK path when none is configured.
func FindSDK(prefix, platform string) (string, error) {
	xcrun, err := Find(prefix, "xcrun")
	if err != nil {
		return "", errors.New("no sdk specified and xcrun is unavailable; set meta.sdk")
	}
	out, err := exec.Command(xcrun, "--show-sdk-path", "--sdk", platform).Output()
	if err != nil {
		return "", fmt.Errorf("could not find an SDK for %q, specify one with meta.sdk: %w", platform, err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	sdk := lines[len(lines)-1]
	if !strings.HasPrefix(sdk, "/") {
		return "", fmt.Errorf("could not find an SDK for %q, specify one with meta.sdk", platform)
	}
	return sdk, nil
}

func (tc *Exec) run(bin string, args []string) error {
	cmd := exec.Command(bin, args...)
	cmd.Stdout = tc.Stdout
	cmd.Stderr = tc.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(bin), err)
	}
	return nil
}

func (tc *Exec) CompileUnit(lang Language, primary string, peers []string, flags []string, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}

	switch lang {
	case LangSwift:
		args := []string{"-frontend", "-c"}
		args = append(args, flags...)
		args = append(args, "-primary-file", primary)
		args = append(args, peers...)
		args = append(args, "-emit-module-path", strings.TrimSuffix(outPath, ".o")+".swiftmodule")
		args = append(args, "-o", outPath)
		return tc.run(tc.Swift, args)
	default:
		args := append([]string{}, flags...)
		args = append(args, "-c", primary, "-o", outPath)
		return tc.run(tc.CC, args)
	}
}

func (tc *Exec) LinkObjects(objects []string, flags []string, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	args := append([]string{}, objects...)
	args = append(args, flags...)
	args = append(args, "-o", outPath)
	return tc.run(tc.CC, args)
}

func (tc *Exec) Merge(perArchPaths []string, outPath string) error {
	args := []string{"-create", "-output", outPath}
	args = append(args, perArchPaths...)
	return tc.run(tc.Lipo, args)
}

func (tc *Exec) Sign(path string, flags []string) error {
	args := append([]string{}, flags...)
	args = append(args, path)
	return tc.run(tc.Ldid, args)
}

func (tc *Exec) AddRunPath(path, runPath string) error {
	return tc.run(tc.InstallNameTool, []string{"-add_rpath", runPath, path})
}

func (tc *Exec) Strip(path string) error {
	return tc.run(tc.StripBin, []string{path})
}
