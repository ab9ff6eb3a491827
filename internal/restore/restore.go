// Package restore implements C8, the Restorer: turning a cache hit into
// materialized artifacts in the module's project tree, gated by
// reconciliation, with staged rollback so a later failure never leaves a
// half-restored tree mixed with fresh rebuild output. The staging area
// moves files aside and back with os.Rename, and errgroup-based
// concurrent work restores multiple attached artifacts at once.
package restore

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/distr1/cachecore/internal/archive"
	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/reconcile"
)

// ArtifactHandle is a future over one restored artifact's local file
// path. With lazyRestore enabled it fetches on first Materialize call;
// otherwise newHandle forces it immediately.
type ArtifactHandle struct {
	path  string
	once  sync.Once
	err   error
	fetch func() error
}

func newHandle(path string, lazy bool, fetch func() error) (*ArtifactHandle, error) {
	h := &ArtifactHandle{path: path, fetch: fetch}
	if !lazy {
		if err := h.Materialize(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Materialize ensures the artifact's blob is present at Path, fetching it
// at most once even under repeated calls.
func (h *ArtifactHandle) Materialize() error {
	h.once.Do(func() { h.err = h.fetch() })
	return h.err
}

// Path is the local file path the artifact will occupy once Materialize
// succeeds.
func (h *ArtifactHandle) Path() string { return h.path }

// BlobSource fetches an artifact blob into the local tier if it is not
// already present there (e.g. downloading from the remote tier), leaving
// it at localPath.
type BlobSource interface {
	EnsureLocal(module model.Coordinate, checksum, fileName, localPath string) error
}

// Request is everything the Restorer needs for one module's restore
// attempt.
type Request struct {
	Module   model.Coordinate
	Checksum string
	Build    model.Build

	CachedSegment     []model.Step
	ForcedSteps       []model.Step
	PostCachedSegment []model.Step

	ModuleBase string

	LazyRestore             bool
	RestoreOnDiskArtifacts  bool
	RestoreGeneratedSources bool

	TrackedOf         func(model.Step) []reconcile.TrackedParameter
	CachedExecutionOf func(model.Step) (model.CompletedExecution, bool)
	Forced            reconcile.ForcedMatcher

	Blobs BlobSource

	// AttachArtifact hands a restored artifact back to the orchestrator
	// so it sees the module as built.
	AttachArtifact func(model.ArtifactDescriptor, *ArtifactHandle) error

	// RunStep executes one step for real (forced steps, and the whole
	// post-cached segment).
	RunStep func(model.Step) error
}

// Restorer executes C8's restoration procedure.
type Restorer struct{}

// Restore runs the five-step restoration procedure and returns the
// resulting status.
func (Restorer) Restore(req Request) (model.CacheRestorationStatus, error) {
	// Step 1: reconciliation gate. A non-forced inconsistency aborts
	// before any file is touched.
	_, inconsistent := reconcile.ReconcileSegment(req.CachedSegment, req.TrackedOf, req.CachedExecutionOf, req.ModuleBase, req.Forced)
	if inconsistent {
		return model.RestorationFailure, nil
	}

	var wroteToProjectTree bool

	// Step 2: primary + attached regular artifacts.
	if req.RestoreOnDiskArtifacts {
		all := append([]model.ArtifactDescriptor{req.Build.Artifact}, regularArtifacts(req.Build.AttachedArtifacts)...)
		var eg errgroup.Group
		for _, a := range all {
			a := a
			eg.Go(func() error {
				localPath := filepath.Join(req.ModuleBase, filepath.FromSlash(a.FilePath))
				handle, err := newHandle(localPath, req.LazyRestore, func() error {
					return req.Blobs.EnsureLocal(req.Module, req.Checksum, a.FileName, localPath)
				})
				if err != nil {
					return &model.RestorationError{ExecutionKey: a.FileName, Err: err}
				}
				if req.AttachArtifact != nil {
					return req.AttachArtifact(a, handle)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return model.RestorationFailure, err
		}
	}

	// Step 3: directory attached artifacts (generated sources, etc.).
	if req.RestoreGeneratedSources {
		for _, a := range directoryArtifacts(req.Build.AttachedArtifacts) {
			dst := filepath.Join(req.ModuleBase, filepath.FromSlash(a.FilePath))
			archivePath := filepath.Join(filepath.Dir(dst), a.FileName)
			if err := req.Blobs.EnsureLocal(req.Module, req.Checksum, a.FileName, archivePath); err != nil {
				status := model.RestorationFailure
				if wroteToProjectTree {
					status = model.RestorationFailureNeedsClean
				}
				return status, &model.RestorationError{ExecutionKey: a.FileName, Err: err}
			}
			if err := os.MkdirAll(dst, 0755); err != nil {
				status := model.RestorationFailure
				if wroteToProjectTree {
					status = model.RestorationFailureNeedsClean
				}
				return status, &model.RestorationError{ExecutionKey: a.FileName, Err: err}
			}
			if err := archive.Unpack(archivePath, dst, archive.Options{PreservePermissions: true}); err != nil {
				status := model.RestorationFailure
				if wroteToProjectTree {
					status = model.RestorationFailureNeedsClean
				}
				return status, &model.RestorationError{ExecutionKey: a.FileName, Err: err}
			}
			wroteToProjectTree = true
		}
	}

	// Step 4: forced steps, then the entire post-cached segment, in
	// order.
	for _, s := range req.ForcedSteps {
		if err := req.RunStep(s); err != nil {
			status := model.RestorationFailure
			if wroteToProjectTree {
				status = model.RestorationFailureNeedsClean
			}
			return status, &model.RestorationError{ExecutionKey: s.Key(), Err: err}
		}
	}
	for _, s := range req.PostCachedSegment {
		if err := req.RunStep(s); err != nil {
			status := model.RestorationFailure
			if wroteToProjectTree {
				status = model.RestorationFailureNeedsClean
			}
			return status, &model.RestorationError{ExecutionKey: s.Key(), Err: err}
		}
	}

	// Step 5: clean completion.
	return model.RestorationSuccess, nil
}

func regularArtifacts(attached []model.ArtifactDescriptor) []model.ArtifactDescriptor {
	var out []model.ArtifactDescriptor
	for _, a := range attached {
		if !isDirectoryType(a.Type) {
			out = append(out, a)
		}
	}
	return out
}

func directoryArtifacts(attached []model.ArtifactDescriptor) []model.ArtifactDescriptor {
	var out []model.ArtifactDescriptor
	for _, a := range attached {
		if isDirectoryType(a.Type) {
			out = append(out, a)
		}
	}
	return out
}

// isDirectoryType reports whether a's Type marks it as a directory
// archive packed by C2, as opposed to a single regular-file artifact.
func isDirectoryType(t string) bool {
	return t == "dir-archive"
}
