package builder

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildAndPackage(t *testing.T) {
	dir := writeProject(t, toolManifest, map[string]string{
		"src/a.c":         "int a;\n",
		"layout/etc/demo": "conf\n",
	})

	d := &fakeDriver{}
	p, err := NewProject(dir, testOptions(t, d))
	if err != nil {
		t.Fatalf("NewProject() error: %v", err)
	}
	if err := p.BuildAndPackage(); err != nil {
		t.Fatalf("BuildAndPackage() error: %v", err)
	}

	// rootless default names the package for the rootless repo architecture
	deb := filepath.Join(p.Dir, "packages", "com.example.demo_1.0_iphoneos-arm64.deb")
	if _, err := os.Stat(deb); err != nil {
		t.Errorf("package missing at %s: %v", deb, err)
	}

	// static layout files are laid over the staged tree
	if _, err := os.Stat(filepath.Join(p.stageRoot, "var", "jb", "etc", "demo")); err != nil {
		t.Errorf("layout file not staged: %v", err)
	}
	control, err := os.ReadFile(filepath.Join(p.stageRoot, "DEBIAN", "control"))
	if err != nil {
		t.Fatalf("control file missing: %v", err)
	}
	if string(control) != "Package: com.example.demo\nVersion: 1.0\n" {
		t.Errorf("control = %q", control)
	}
}

func TestSubprojectsShareStagingRoot(t *testing.T) {
	root := writeProject(t, `
submodules = ["child"]

[meta]
archs = ["arm64"]

[control]
id = "com.example.bundle"
version = "2.0"

[modules.parent]
type = "tool"
files = ["src/*.c"]
`, map[string]string{
		"src/main.c": "int main;\n",
	})

	childDir := filepath.Join(root, "child")
	if err := os.MkdirAll(filepath.Join(childDir, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	childManifest := `
[modules.child]
type = "tool"
files = ["src/*.c"]
`
	if err := os.WriteFile(filepath.Join(childDir, "Lume.toml"), []byte(childManifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(childDir, "src", "c.c"), []byte("int c;\n"), 0644); err != nil {
		t.Fatal(err)
	}

	d := &fakeDriver{}
	p, err := NewProject(root, testOptions(t, d))
	if err != nil {
		t.Fatalf("NewProject() error: %v", err)
	}
	if errs := p.Build(); len(errs) != 0 {
		t.Fatalf("Build() errors: %v", errs)
	}

	// the child inherited the single-architecture set: one compile each
	if got := d.count("compile"); got != 2 {
		t.Errorf("compile count = %d, want 2", got)
	}

	// both artifacts staged into the same package tree
	bin := filepath.Join(p.stageRoot, "var", "jb", "usr", "bin")
	for _, name := range []string{"parent", "child"} {
		if _, err := os.Stat(filepath.Join(bin, name)); err != nil {
			t.Errorf("staged %s missing: %v", name, err)
		}
	}

	// the child keeps its own incremental state
	if _, err := os.Stat(filepath.Join(childDir, BuildDirName, "hashes.json")); err != nil {
		t.Errorf("child hash cache missing: %v", err)
	}
}
