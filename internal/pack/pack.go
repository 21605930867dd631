// Package pack assembles a staged filesystem tree into a Debian package.
//
// A deb is a Unix ar archive holding exactly three members in order:
// debian-binary, control.tar.gz and data.tar.<ext>. dpkg expects the control
// archive gzipped regardless of the data compression.
package pack

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	CompressionZstd = "zstd"
	CompressionGzip = "gzip"
)

// Algorithms lists the supported data.tar compression algorithms.
func Algorithms() []string {
	return []string{CompressionZstd, CompressionGzip}
}

// Assemble packs stagingRoot into a deb at outPath. The DEBIAN directory
// becomes the control archive; everything else becomes the data archive,
// compressed with the requested algorithm.
func Assemble(stagingRoot, outPath, algorithm string) error {
	var ext string
	switch algorithm {
	case CompressionZstd:
		ext = "zst"
	case CompressionGzip:
		ext = "gz"
	default:
		return fmt.Errorf("unsupported compression %q, expected one of %s", algorithm, strings.Join(Algorithms(), ", "))
	}

	control, err := buildTar(filepath.Join(stagingRoot, "DEBIAN"), CompressionGzip, nil)
	if err != nil {
		return fmt.Errorf("control archive: %w", err)
	}

	data, err := buildTar(stagingRoot, algorithm, map[string]bool{"DEBIAN": true})
	if err != nil {
		return fmt.Errorf("data archive: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}

	ar := newArWriter(out)
	if err := ar.Member("debian-binary", []byte("2.0\n")); err != nil {
		out.Close()
		return err
	}
	if err := ar.Member("control.tar.gz", control); err != nil {
		out.Close()
		return err
	}
	if err := ar.Member("data.tar."+ext, data); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// buildTar archives root into a compressed tarball. Entry names are rooted at
// "./" the way dpkg-deb writes them. Directories named in skip (relative to
// root) are left out entirely.
func buildTar(root, algorithm string, skip map[string]bool) ([]byte, error) {
	var buf bytes.Buffer

	var compressor io.WriteCloser
	switch algorithm {
	case CompressionZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		compressor = zw
	case CompressionGzip:
		compressor = gzip.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unsupported compression %q", algorithm)
	}

	tw := tar.NewWriter(compressor)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skip[rel] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr := &tar.Header{
			Name:    "./" + filepath.ToSlash(rel),
			Mode:    int64(info.Mode().Perm()),
			ModTime: info.ModTime(),
			Uname:   "root",
			Gname:   "root",
		}
		if d.IsDir() {
			hdr.Name += "/"
			hdr.Typeflag = tar.TypeDir
			return tw.WriteHeader(hdr)
		}

		hdr.Typeflag = tar.TypeReg
		hdr.Size = info.Size()
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := compressor.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// arWriter emits the classic Unix ar format: a global magic followed by
// 60-byte member headers, every member padded to an even offset.
type arWriter struct {
	w         io.Writer
	wroteInit bool
}

func newArWriter(w io.Writer) *arWriter {
	return &arWriter{w: w}
}

func (a *arWriter) Member(name string, data []byte) error {
	if !a.wroteInit {
		if _, err := io.WriteString(a.w, "!<arch>\n"); err != nil {
			return err
		}
		a.wroteInit = true
	}

	hdr := fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10d`\n",
		name, time.Now().Unix(), 0, 0, 0644, len(data))
	if len(hdr) != 60 {
		return fmt.Errorf("ar header for %q is %d bytes, want 60", name, len(hdr))
	}
	if _, err := io.WriteString(a.w, hdr); err != nil {
		return err
	}
	if _, err := a.w.Write(data); err != nil {
		return err
	}
	if len(data)%2 == 1 {
		if _, err := io.WriteString(a.w, "\n"); err != nil {
			return err
		}
	}
	return nil
}
