// Package archive implements C2: deterministic packing and unpacking of
// directory trees into a single archive entry-stream, with optional
// mode/mtime preservation and path-traversal safety on unpack.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/distr1/cachecore/internal/model"
)

// Options controls a pack/unpack operation.
type Options struct {
	// Glob, if non-empty, restricts packed entries to files whose
	// path relative to srcDir matches the pattern (filepath.Match
	// semantics, applied per path segment the way filepath.Glob
	// would).
	Glob string

	PreservePermissions bool
	PreserveTimestamps  bool
}

func (o Options) matches(relPath string) (bool, error) {
	if o.Glob == "" {
		return true, nil
	}
	return filepath.Match(o.Glob, relPath)
}

type fileEntry struct {
	relPath string
	absPath string
	info    fs.FileInfo
}

// scan walks srcDir and returns every regular file matching opts.Glob,
// sorted lexicographically by relative path — the ordering that makes
// the resulting archive byte-stable across runs (P1/I3).
func scan(srcDir string, opts Options) ([]fileEntry, error) {
	var entries []fileEntry
	err := filepath.Walk(srcDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		ok, err := opts.matches(rel)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		entries = append(entries, fileEntry{relPath: rel, absPath: path, info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })
	return entries, nil
}

// dirsOf returns the set of directories (in lexicographic order) that
// contain at least one entry in files, including intermediate
// directories.
func dirsOf(files []fileEntry) []string {
	seen := make(map[string]bool)
	for _, f := range files {
		d := filepath.Dir(f.relPath)
		for d != "." && d != "/" && d != "" {
			if seen[d] {
				break
			}
			seen[d] = true
			d = filepath.Dir(d)
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// regularMode and executableMode are built from the same unix.S_I*
// permission-bit constants used to assemble squashfs inode modes
// (internal/squashfs/writer.go), rather than bare octal literals.
const (
	regularMode    = unix.S_IRUSR | unix.S_IWUSR | unix.S_IRGRP | unix.S_IROTH
	executableMode = regularMode | unix.S_IXUSR | unix.S_IXGRP | unix.S_IXOTH
)

// mode returns the Git-style executability-only permission mode:
// executableMode if the user-execute bit is set on the source, else
// regularMode. Only these permission bits go into the header's Mode; the
// regular-file type is carried by the header's Typeflag.
func mode(info fs.FileInfo, preserve bool) int64 {
	if !preserve {
		return regularMode
	}
	if info.Mode()&unix.S_IXUSR != 0 {
		return executableMode
	}
	return regularMode
}

// Pack writes dstFile as a deterministic archive of the directory tree
// rooted at srcDir, honoring opts. It returns true iff at least one file
// matched opts.Glob (or matched trivially, when Glob is empty).
func Pack(srcDir, dstFile string, opts Options) (bool, error) {
	entries, err := scan(srcDir, opts)
	if err != nil {
		return false, xerrors.Errorf("archive: scan %s: %w", srcDir, err)
	}
	if len(entries) == 0 {
		return false, nil
	}

	f, err := os.Create(dstFile)
	if err != nil {
		return false, err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return false, err
	}
	tw := tar.NewWriter(zw)

	if opts.PreserveTimestamps {
		for _, d := range dirsOf(entries) {
			hdr := &tar.Header{
				Name:     d + "/",
				Typeflag: tar.TypeDir,
				Mode:     0755,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return false, err
			}
		}
	}

	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.relPath,
			Typeflag: tar.TypeReg,
			Size:     e.info.Size(),
			Mode:     mode(e.info, opts.PreservePermissions),
		}
		if opts.PreserveTimestamps {
			hdr.ModTime = e.info.ModTime()
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return false, err
		}
		in, err := os.Open(e.absPath)
		if err != nil {
			return false, err
		}
		_, err = io.Copy(tw, in)
		in.Close()
		if err != nil {
			return false, err
		}
	}

	if err := tw.Close(); err != nil {
		return false, err
	}
	if err := zw.Close(); err != nil {
		return false, err
	}
	return true, f.Close()
}

// Unpack extracts srcFile into dstDir. Every entry's destination path is
// verified to remain under dstDir (I4); a crafted archive with an entry
// escaping dstDir (e.g. "../evil") aborts the whole operation with a
// *model.SecurityError and leaves no partially written files outside
// dstDir.
func Unpack(srcFile, dstDir string, opts Options) error {
	f, err := os.Open(srcFile)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	dstAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return err
	}
	dstAbs = filepath.Clean(dstAbs)

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(hdr.Name, "/")
		dest := filepath.Join(dstAbs, filepath.FromSlash(name))
		destClean := filepath.Clean(dest)
		if destClean != dstAbs && !strings.HasPrefix(destClean, dstAbs+string(os.PathSeparator)) {
			return &model.SecurityError{Entry: hdr.Name, Dest: dstAbs}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destClean, 0755); err != nil {
				return err
			}
			if opts.PreserveTimestamps {
				os.Chtimes(destClean, hdr.ModTime, hdr.ModTime)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destClean), 0755); err != nil {
				return err
			}
			perm := os.FileMode(0644)
			if opts.PreservePermissions {
				perm = os.FileMode(hdr.Mode) & 0777
			}
			out, err := os.OpenFile(destClean, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			if opts.PreserveTimestamps {
				os.Chtimes(destClean, hdr.ModTime, hdr.ModTime)
			}
		default:
			return fmt.Errorf("archive: unsupported entry type %v for %s", hdr.Typeflag, hdr.Name)
		}
	}
	return nil
}
