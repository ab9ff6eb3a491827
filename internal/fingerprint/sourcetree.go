package fingerprint

import (
	"log"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/distr1/cachecore/internal/hashalgo"
	"github.com/distr1/cachecore/internal/model"
)

// SourceRoot is one (includeRoot, glob, exclude) triple configured for
// source-tree scanning.
type SourceRoot struct {
	IncludeRoot string
	Glob        string   // filepath.Match pattern over the root-relative path, e.g. "*.go" (top level only; "*" does not cross "/"); empty matches everything
	Exclude     []string // glob patterns; a file matching any is skipped
	// Blacklist names directory basenames pruned early (e.g. ".git",
	// "node_modules", "target") without descending into them.
	Blacklist []string
}

func blacklisted(name string, list []string) bool {
	for _, b := range list {
		if b == name {
			return true
		}
	}
	return false
}

func matchesGlob(rel, glob string) (bool, error) {
	if glob == "" {
		return true, nil
	}
	return filepath.Match(glob, rel)
}

func excludedBy(rel string, excludes []string) (bool, error) {
	for _, ex := range excludes {
		ok, err := filepath.Match(ex, rel)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// sourceTreeItems walks each configured root, hashing every matching file
// (derived from its relative path plus content hash), returning the
// items sorted by relative path, the order the aggregate checksum
// requires (§4.3 item 2).
func sourceTreeItems(roots []SourceRoot, algo hashalgo.Algorithm) ([]model.DigestItem, error) {
	type found struct {
		rel, abs string
	}
	var (
		files []found
	)
	for _, root := range roots {
		err := filepath.Walk(root.IncludeRoot, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, rerr := filepath.Rel(root.IncludeRoot, path)
			if rerr != nil {
				return rerr
			}
			rel = filepath.ToSlash(rel)
			if info.IsDir() {
				if rel != "." && blacklisted(info.Name(), root.Blacklist) {
					log.Printf("fingerprint: pruning blacklisted directory %s", path)
					return filepath.SkipDir
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			ok, err := matchesGlob(rel, root.Glob)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			excl, err := excludedBy(rel, root.Exclude)
			if err != nil {
				return err
			}
			if excl {
				return nil
			}
			files = append(files, found{rel: rel, abs: path})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	items := make([]model.DigestItem, len(files))
	var eg errgroup.Group
	for i, f := range files {
		i, f := i, f
		eg.Go(func() error {
			h, err := algo.HashFile(f.abs)
			if err != nil {
				return err
			}
			items[i] = model.DigestItem{Type: "file", Key: f.rel, Hash: algo.HashBytes([]byte(f.rel + "\x00" + h))}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}
