package migrate

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// extractZip unpacks an export archive into dst. Entry paths are confined
// to dst; an entry escaping it fails the whole extraction.
func extractZip(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := confinedPath(dst, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func confinedPath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return target, nil
}

// openDump opens the SQL dump in workdir, transparently decompressing the
// gzipped form. The caller closes the returned reader.
func openDump(workdir string) (io.ReadCloser, error) {
	if f, err := os.Open(filepath.Join(workdir, DatabaseDumpName)); err == nil {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("decompressing %s: %w", DatabaseDumpName, err)
		}
		return &gzipReadCloser{gz: gz, file: f}, nil
	}
	f, err := os.Open(filepath.Join(workdir, DatabaseDumpPlain))
	if err != nil {
		return nil, fmt.Errorf("archive contains no database dump")
	}
	return f, nil
}

type gzipReadCloser struct {
	gz   *gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gerr := g.gz.Close()
	ferr := g.file.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}

// zipBuilder incrementally writes an export archive.
type zipBuilder struct {
	file *os.File
	zw   *zip.Writer
}

func newZipBuilder(path string) (*zipBuilder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &zipBuilder{file: f, zw: zip.NewWriter(f)}, nil
}

// AddBytes stores one entry with in-memory content.
func (b *zipBuilder) AddBytes(name string, data []byte) error {
	w, err := b.zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// AddFile stores one entry streamed from disk.
func (b *zipBuilder) AddFile(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := b.zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// AddTree stores every regular file under dir with the given entry prefix.
func (b *zipBuilder) AddTree(prefix, dir string) (int, error) {
	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		count++
		return b.AddFile(prefix+filepath.ToSlash(rel), path)
	})
	return count, err
}

func (b *zipBuilder) Close() error {
	if err := b.zw.Close(); err != nil {
		b.file.Close()
		return err
	}
	return b.file.Close()
}

// gzipToFile streams r into path, gzip-compressed, and returns the number
// of uncompressed bytes written.
func gzipToFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	gz, _ := gzip.NewWriterLevel(f, gzip.BestSpeed)
	n, err := io.Copy(gz, r)
	if err != nil {
		gz.Close()
		f.Close()
		return n, err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return n, err
	}
	return n, f.Close()
}
