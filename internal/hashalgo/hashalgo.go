// Package hashalgo implements C1: a small registry of streaming content
// hash algorithms, consumed by the rest of the cache engine through the
// Algorithm interface so that no component needs to know which concrete
// hash function backs a given name.
package hashalgo

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"

	"github.com/distr1/cachecore/internal/model"
)

// Incremental is a stateful hash accumulator used for aggregate hashing
// (e.g. the ProjectsInputInfo checksum over concatenated item hashes).
type Incremental interface {
	Update(p []byte)
	Finalize() string
}

// Algorithm is the abstract hash primitive every other component
// consumes: name→implementation is resolved once via Factory, after
// which callers never branch on which concrete algorithm is in use.
type Algorithm interface {
	Name() string
	HashBytes(b []byte) string
	HashFile(path string) (string, error)
	New() Incremental
}

type stdHash struct {
	name string
	new  func() hash.Hash
}

func (s stdHash) Name() string { return s.name }

func (s stdHash) HashBytes(b []byte) string {
	h := s.new()
	h.Write(b)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (s stdHash) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := s.new()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (s stdHash) New() Incremental {
	return &stdIncremental{h: s.new()}
}

type stdIncremental struct{ h hash.Hash }

func (s *stdIncremental) Update(p []byte) { s.h.Write(p) }
func (s *stdIncremental) Finalize() string {
	return fmt.Sprintf("%x", s.h.Sum(nil))
}

// xxAlgorithm backs the "XX" name: a streaming xxhash64 over the data
// read through a plain os.File.
type xxAlgorithm struct{}

func (xxAlgorithm) Name() string { return "XX" }

func (xxAlgorithm) HashBytes(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

func (xxAlgorithm) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func (xxAlgorithm) New() Incremental {
	return &xxIncremental{h: xxhash.New()}
}

type xxIncremental struct{ h *xxhash.Digest }

func (x *xxIncremental) Update(p []byte)  { x.h.Write(p) }
func (x *xxIncremental) Finalize() string { return fmt.Sprintf("%016x", x.h.Sum64()) }

// xxmmAlgorithm backs the "XXMM" name: the same xxhash64 digest, but
// reading large files through a memory-mapped reader instead of
// buffered os.File reads, the same golang.org/x/exp/mmap use as
// internal/install's squashfs content reads.
type xxmmAlgorithm struct{}

func (xxmmAlgorithm) Name() string { return "XXMM" }

func (xxmmAlgorithm) HashBytes(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

func (xxmmAlgorithm) HashFile(path string) (string, error) {
	r, err := mmap.Open(path)
	if err != nil {
		// Not every filesystem/file supports mmap (e.g. zero-length
		// files); fall back to a buffered read rather than failing the
		// whole fingerprint.
		return xxAlgorithm{}.HashFile(path)
	}
	defer r.Close()
	h := xxhash.New()
	buf := make([]byte, 64*1024)
	for off := 0; off < r.Len(); off += len(buf) {
		n, err := r.ReadAt(buf, int64(off))
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil && err != io.EOF {
			return "", err
		}
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func (xxmmAlgorithm) New() Incremental {
	return &xxIncremental{h: xxhash.New()}
}

// Factory resolves algorithm names to implementations.
type Factory struct{}

var registry = map[string]Algorithm{
	"SHA-256": stdHash{name: "SHA-256", new: sha256.New},
	"SHA-1":   stdHash{name: "SHA-1", new: sha1.New},
	"XX":      xxAlgorithm{},
	"XXMM":    xxmmAlgorithm{},
}

// Of returns the named algorithm, or a *model.ConfigError if name is
// unknown.
func (Factory) Of(name string) (Algorithm, error) {
	a, ok := registry[name]
	if !ok {
		return nil, &model.ConfigError{
			Reason: fmt.Sprintf("unknown hash algorithm %q", name),
			Err:    xerrors.New("hashalgo: no such algorithm"),
		}
	}
	return a, nil
}
