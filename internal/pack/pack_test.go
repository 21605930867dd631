package pack

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func stageFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"DEBIAN/control":                        "Package: com.example.demo\nVersion: 1.0\n",
		"var/jb/usr/bin/demo":                   "binary",
		"var/jb/usr/lib/TweakInject/demo.plist": "Filter = {};",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// readAr parses the ar container back into name -> data.
func readAr(t *testing.T, data []byte) (names []string, members map[string][]byte) {
	t.Helper()
	if !bytes.HasPrefix(data, []byte("!<arch>\n")) {
		t.Fatal("missing ar magic")
	}
	rest := data[8:]
	members = make(map[string][]byte)

	for len(rest) > 0 {
		if len(rest) < 60 {
			t.Fatalf("truncated ar header: %d bytes left", len(rest))
		}
		hdr := rest[:60]
		if !bytes.Equal(hdr[58:60], []byte("`\n")) {
			t.Fatalf("bad ar header terminator: %q", hdr[58:60])
		}
		name := strings.TrimRight(string(hdr[0:16]), " ")
		size, err := strconv.Atoi(strings.TrimRight(string(hdr[48:58]), " "))
		if err != nil {
			t.Fatalf("bad ar size field: %v", err)
		}
		rest = rest[60:]
		members[name] = rest[:size]
		names = append(names, name)
		rest = rest[size:]
		if size%2 == 1 {
			rest = rest[1:] // alignment byte
		}
	}
	return names, members
}

func tarNames(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	entries := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading tar: %v", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			if err != nil {
				t.Fatal(err)
			}
			entries[hdr.Name] = string(data)
		} else {
			entries[hdr.Name] = ""
		}
	}
	return entries
}

func TestAssembleZstd(t *testing.T) {
	root := stageFixture(t)
	out := filepath.Join(t.TempDir(), "demo.deb")

	if err := Assemble(root, out, CompressionZstd); err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	names, members := readAr(t, data)

	want := []string{"debian-binary", "control.tar.gz", "data.tar.zst"}
	if len(names) != 3 || names[0] != want[0] || names[1] != want[1] || names[2] != want[2] {
		t.Fatalf("member order = %v, want %v", names, want)
	}
	if string(members["debian-binary"]) != "2.0\n" {
		t.Errorf("debian-binary = %q, want \"2.0\\n\"", members["debian-binary"])
	}

	gz, err := gzip.NewReader(bytes.NewReader(members["control.tar.gz"]))
	if err != nil {
		t.Fatalf("control archive is not gzip: %v", err)
	}
	control := tarNames(t, gz)
	if got := control["./control"]; !strings.Contains(got, "Package: com.example.demo") {
		t.Errorf("control entry = %q", got)
	}

	zr, err := zstd.NewReader(bytes.NewReader(members["data.tar.zst"]))
	if err != nil {
		t.Fatalf("data archive is not zstd: %v", err)
	}
	defer zr.Close()
	payload := tarNames(t, zr)
	if got := payload["./var/jb/usr/bin/demo"]; got != "binary" {
		t.Errorf("payload entry = %q, want \"binary\"", got)
	}
	for name := range payload {
		if strings.Contains(name, "DEBIAN") {
			t.Errorf("control files leaked into the payload: %s", name)
		}
		if !strings.HasPrefix(name, "./") {
			t.Errorf("payload entry %q is not rooted at ./", name)
		}
	}
}

func TestAssembleGzip(t *testing.T) {
	root := stageFixture(t)
	out := filepath.Join(t.TempDir(), "demo.deb")

	if err := Assemble(root, out, CompressionGzip); err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	names, members := readAr(t, data)
	if len(names) != 3 || names[2] != "data.tar.gz" {
		t.Fatalf("members = %v, want data.tar.gz last", names)
	}

	gz, err := gzip.NewReader(bytes.NewReader(members["data.tar.gz"]))
	if err != nil {
		t.Fatalf("data archive is not gzip: %v", err)
	}
	payload := tarNames(t, gz)
	if _, ok := payload["./var/jb/usr/lib/TweakInject/demo.plist"]; !ok {
		t.Errorf("payload missing plist, entries: %v", payload)
	}
}

func TestAssembleUnknownCompression(t *testing.T) {
	root := stageFixture(t)
	out := filepath.Join(t.TempDir(), "demo.deb")

	if err := Assemble(root, out, "lzma"); err == nil {
		t.Fatal("Assemble() accepted an unknown compression algorithm")
	}
}
