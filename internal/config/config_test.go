package config

import (
	"slices"
	"strings"
	"testing"
)

func testEnv() Env {
	return NewEnv(".", "iphoneos", true, false)
}

func TestParseDefaults(t *testing.T) {
	data := []byte(`
[modules.test]
type = "tool"
files = ["src/**.c"]
`)
	cfg, err := Parse(data, testEnv(), nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Meta.CC != "clang" {
		t.Errorf("default cc = %q, want %q", cfg.Meta.CC, "clang")
	}
	if cfg.Meta.Platform != "iphoneos" {
		t.Errorf("default platform = %q, want %q", cfg.Meta.Platform, "iphoneos")
	}
	if !cfg.Meta.Rootless {
		t.Error("default rootless = false, want true")
	}
	if !slices.Equal(cfg.Meta.Archs, []string{"arm64", "arm64e"}) {
		t.Errorf("default archs = %v", cfg.Meta.Archs)
	}
	if cfg.Meta.Compression != "zstd" {
		t.Errorf("default compression = %q, want %q", cfg.Meta.Compression, "zstd")
	}

	mod := cfg.Modules["test"]
	if mod == nil {
		t.Fatal("module \"test\" missing")
	}
	if !mod.ARC() {
		t.Error("ARC() = false by default, want true")
	}
	if !mod.OnlyCompileChanged() {
		t.Error("OnlyCompileChanged() = false by default, want true")
	}
}

func TestParseMetaOverrides(t *testing.T) {
	data := []byte(`
[meta]
archs = ["arm64"]
min-vers = "16.0"
rootless = false
opt-level = "s"

[modules.app]
type = "tool"
files = ["main.c"]
use-arc = false
only-compile-changed = false
`)
	cfg, err := Parse(data, testEnv(), nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if !slices.Equal(cfg.Meta.Archs, []string{"arm64"}) {
		t.Errorf("archs = %v, want [arm64]", cfg.Meta.Archs)
	}
	if cfg.Meta.MinVers != "16.0" {
		t.Errorf("min-vers = %q, want 16.0", cfg.Meta.MinVers)
	}
	if cfg.Meta.Rootless {
		t.Error("rootless = true, want false")
	}
	if got := cfg.Meta.Optimization.String(); got != "s" {
		t.Errorf("opt-level = %q, want s", got)
	}

	mod := cfg.Modules["app"]
	if mod.ARC() {
		t.Error("ARC() = true, want false")
	}
	if mod.OnlyCompileChanged() {
		t.Error("OnlyCompileChanged() = true, want false")
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"no modules", `[meta]` + "\n" + `archs = ["arm64"]`},
		{"missing type", "[modules.a]\nfiles = [\"x.c\"]"},
		{"unknown type", "[modules.a]\ntype = \"framework\"\nfiles = [\"x.c\"]"},
		{"no files", "[modules.a]\ntype = \"tool\""},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.data), testEnv(), nil); err == nil {
			t.Errorf("%s: Parse() succeeded, want error", tc.name)
		}
	}
}

func TestParseConditionalSections(t *testing.T) {
	data := []byte(`
[meta]
archs = ["arm64"]

[meta.rootless]
min-vers = "14.0"

[meta.release]
opt-level = 3

[modules.tweak]
type = "tweak"
files = ["src/**.xm"]

[modules.tweak.rootless]
cflags = ["-DROOTLESS"]
`)
	cfg, err := Parse(data, testEnv(), nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Meta.MinVers != "14.0" {
		t.Errorf("rootless section not merged, min-vers = %q", cfg.Meta.MinVers)
	}
	// release is false in the test environment
	if got := cfg.Meta.Optimization.String(); got == "3" {
		t.Error("release section merged in a debug environment")
	}
	if !slices.Contains(cfg.Modules["tweak"].CFlags, "-DROOTLESS") {
		t.Errorf("module conditional not merged, cflags = %v", cfg.Modules["tweak"].CFlags)
	}
}

func TestParseStringExpressions(t *testing.T) {
	data := []byte(`
[modules.app]
type = "tool"
files = ["main.c"]
cflags = ["-DPLATFORM={{platform}}", "-DROOTLESS={{rootless ? 1 : 0}}"]
`)
	cfg, err := Parse(data, testEnv(), nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	cflags := cfg.Modules["app"].CFlags
	if !slices.Contains(cflags, "-DPLATFORM=iphoneos") {
		t.Errorf("platform expression not evaluated: %v", cflags)
	}
	if !slices.Contains(cflags, "-DROOTLESS=1") {
		t.Errorf("ternary expression not evaluated: %v", cflags)
	}
}

func TestModuleOrderFollowsDeclaration(t *testing.T) {
	data := []byte(`
[modules.zeta]
type = "tool"
files = ["z.c"]

[modules.alpha]
type = "tool"
files = ["a.c"]

[modules.mid]
type = "tool"
files = ["m.c"]
`)
	cfg, err := Parse(data, testEnv(), nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	want := []string{"zeta", "alpha", "mid"}
	if !slices.Equal(cfg.ModuleOrder, want) {
		t.Errorf("ModuleOrder = %v, want %v", cfg.ModuleOrder, want)
	}
}

func TestParseInheritedMeta(t *testing.T) {
	parent := defaultMeta()
	parent.MinVers = "17.0"
	parent.Archs = []string{"arm64"}
	parent.Release = true

	data := []byte(`
[meta]
opt-level = 0

[modules.sub]
type = "tool"
files = ["main.c"]
`)
	cfg, err := Parse(data, testEnv(), &parent)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Meta.MinVers != "17.0" {
		t.Errorf("inherited min-vers = %q, want 17.0", cfg.Meta.MinVers)
	}
	if !cfg.Meta.Release {
		t.Error("inherited release flag lost")
	}
	if got := cfg.Meta.Optimization.String(); got != "0" {
		t.Errorf("own opt-level = %q, want 0", got)
	}
}

func TestParseSubmodules(t *testing.T) {
	data := []byte(`
submodules = ["tweak", "prefs"]
`)
	cfg, err := Parse(data, testEnv(), nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !slices.Equal(cfg.Submodules, []string{"tweak", "prefs"}) {
		t.Errorf("Submodules = %v", cfg.Submodules)
	}
}

func TestControlText(t *testing.T) {
	control := map[string]any{
		"id":          "com.example.app",
		"name":        "App",
		"version":     "1.2.3",
		"author":      "someone",
		"description": "does things",
	}
	text := ControlText(control)

	if !strings.HasPrefix(text, "Package: com.example.app\n") {
		t.Errorf("control does not start with the package id:\n%s", text)
	}
	if !strings.Contains(text, "Author: someone\n") || !strings.Contains(text, "Maintainer: someone\n") {
		t.Errorf("author not mirrored into maintainer:\n%s", text)
	}
	if !strings.Contains(text, "Version: 1.2.3\n") {
		t.Errorf("missing version:\n%s", text)
	}
	if !strings.HasSuffix(text, "\n") {
		t.Error("control text must end with a newline")
	}
}
