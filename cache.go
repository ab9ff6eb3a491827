// Package cache is the public surface of the build cache engine: the
// Coordinator (C10), the top-level per-module state machine that drives
// fingerprinting, two-tier lookup, reconciliation, restoration and save.
// Its shape follows internal/batch.Ctx.Build: build a dependency graph,
// skip up-to-date nodes by digest comparison, run the rest — here
// expressed as a state machine for a single module instead of a batch of
// packages.
package cache

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/distr1/cachecore/internal/fingerprint"
	"github.com/distr1/cachecore/internal/hashalgo"
	"github.com/distr1/cachecore/internal/lifecycle"
	"github.com/distr1/cachecore/internal/localrepo"
	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/reconcile"
	"github.com/distr1/cachecore/internal/remoterepo"
	"github.com/distr1/cachecore/internal/restore"
	"github.com/distr1/cachecore/internal/save"
	"github.com/distr1/cachecore/internal/trace"
)

// Coordinator wires C1–C9 together and drives the S0-S7 state machine
// for one module at a time. It is safe for concurrent use by multiple
// goroutines driving different modules of the same run: the only state
// it touches that crosses module boundaries is the shared RunContext,
// whose own fields are already guarded.
type Coordinator struct {
	RC         *model.RunContext
	Local      *localrepo.Repository
	Remote     *remoterepo.Repository // nil when the remote tier is disabled
	Lifecycles lifecycle.Lifecycles
	Algo       hashalgo.Algorithm

	fingerprinter *fingerprint.Fingerprinter
	blobs         *blobBridge
}

// New returns a Coordinator ready to drive modules through rc's
// configuration.
func New(rc *model.RunContext, local *localrepo.Repository, remote *remoterepo.Repository, lifecycles lifecycle.Lifecycles, algo hashalgo.Algorithm) *Coordinator {
	return &Coordinator{
		RC:         rc,
		Local:      local,
		Remote:     remote,
		Lifecycles: lifecycles,
		Algo:       algo,

		fingerprinter: fingerprint.New(rc, algo),
		blobs:         &blobBridge{local: local, remote: remote, remoteEnabled: rc.Config.RemoteEnabled},
	}
}

// ModuleRequest is everything the Coordinator needs to run one module
// through S0–S7. The orchestrator-shaped callbacks (RunStep,
// AttachArtifact, ForkedPhaseOf) stand in for the upstream build tool's
// runtime, the same way every other component in this repository
// consumes its orchestrator collaborator through an interface rather
// than a concrete dependency.
type ModuleRequest struct {
	Module model.Coordinate
	Source model.StepSource
	Steps  []model.Step

	Inputs   fingerprint.ModuleInputs
	Provider fingerprint.ModuleInputsProvider
	Lookup   fingerprint.BuildLookup

	ModuleBase      string
	PrimaryArtifact model.ArtifactDescriptor
	OutputDirs      []save.OutputDir

	TrackedOf         func(model.Step) []reconcile.TrackedParameter
	CachedExecutionOf func(model.Step) (model.CompletedExecution, bool)
	ParamSpecsOf      func(model.Step) []save.ParameterSpec
	Forced            reconcile.ForcedMatcher

	ForkedPhaseOf  func(model.Step) (phase string, forked bool)
	RunStep        func(model.Step) error
	AttachArtifact func(model.ArtifactDescriptor, *restore.ArtifactHandle) error

	Goals []string
}

// Outcome is everything the Coordinator's caller needs to know about how
// one module's run was handled.
type Outcome struct {
	Result      model.CacheResult
	Restoration model.CacheRestorationStatus
	Saved       bool
	Build       model.Build
}

// Run drives req through S0–S7 and returns the resulting Outcome. A
// non-nil error is always fatal for the module (configuration, I/O,
// fingerprint, security, or cycle errors); every recoverable
// cache-decision failure (lookup or restoration trouble) is instead
// folded into the returned Outcome.
func (c *Coordinator) Run(req ModuleRequest) (Outcome, error) {
	key := req.Module.String()

	// S0 Enter.
	if req.Source == model.SourceCLI {
		return c.runAllNoCache(req)
	}
	if c.RC.ForkTracker().IsForked(key) {
		return c.runAllNoCache(req)
	}

	seg, err := lifecycle.Segment(c.Lifecycles, req.Steps, nil, req.ForkedPhaseOf)
	if err != nil {
		return Outcome{}, err
	}
	if seg.Forked {
		return c.runAllNoCache(req)
	}

	// S1 runCleanSegment.
	for _, s := range seg.Clean {
		if err := req.RunStep(s); err != nil {
			return Outcome{}, err
		}
	}

	// S2 initConfig.
	if !c.RC.Config.Enabled {
		result := model.CacheResult{Kind: model.ResultEmpty, Context: model.CacheContext{Module: req.Module}}
		c.RC.StoreResult(key, result)
		return c.runRemainingAndMaybeSave(req, seg, result, model.RestorationFailure, false)
	}

	fpEv := trace.Event("fingerprint "+req.Module.String(), 0)
	fp, err := c.fingerprinter.Compute(req.Module, req.Inputs, req.Provider, req.Lookup)
	fpEv.Done()
	if err != nil {
		return Outcome{}, err
	}

	requestedPhase := highestRequestedPhase(c.Lifecycles, req.Steps)

	// S3 findCachedBuild.
	var result model.CacheResult
	if c.RC.Config.SkipCache {
		result = model.CacheResult{Kind: model.ResultEmpty, Context: model.CacheContext{Module: req.Module, Fingerprint: fp}}
	} else {
		lookupEv := trace.Event("findCachedBuild "+req.Module.String(), 0)
		result, err = c.findCachedBuild(req.Module, fp.Checksum, requestedPhase)
		lookupEv.Done()
		if err != nil {
			return Outcome{}, err
		}
		result.Context = model.CacheContext{Module: req.Module, Fingerprint: fp}
	}
	c.RC.StoreResult(key, result)

	if !result.IsRestorable() {
		log.Printf("cache %s: %s, rebuilding", req.Module, result.Kind)
		return c.runRemainingAndMaybeSave(req, seg, result, model.RestorationFailure, false)
	}

	build := *result.Build
	resegmented, err := lifecycle.Segment(c.Lifecycles, req.Steps, &build, req.ForkedPhaseOf)
	if err != nil {
		return Outcome{}, err
	}

	// S4 Restore.
	restoreReq := restore.Request{
		Module:                  req.Module,
		Checksum:                fp.Checksum,
		Build:                   build,
		CachedSegment:           resegmented.Cached,
		ForcedSteps:             forcedSteps(resegmented.Cached, req.Forced),
		PostCachedSegment:       resegmented.PostCached,
		ModuleBase:              req.ModuleBase,
		LazyRestore:             c.RC.Config.LazyRestore,
		RestoreOnDiskArtifacts:  c.RC.Config.RestoreOnDiskArtifacts,
		RestoreGeneratedSources: c.RC.Config.RestoreGeneratedSources,
		TrackedOf:               req.TrackedOf,
		CachedExecutionOf:       req.CachedExecutionOf,
		Forced:                  req.Forced,
		Blobs:                   c.blobs,
		AttachArtifact:          req.AttachArtifact,
		RunStep:                 req.RunStep,
	}
	restoreEv := trace.Event("restore "+req.Module.String(), 0)
	status, err := restore.Restorer{}.Restore(restoreReq)
	restoreEv.Done()
	if err != nil {
		if _, ok := err.(*model.RestorationError); !ok {
			return Outcome{}, err
		}
		log.Printf("cache %s: restoration error: %v", req.Module, err)
	}

	switch status {
	case model.RestorationSuccess:
		log.Printf("cache %s: %s restored", req.Module, result.Kind)
		return c.finish(req, result, status, false, build)
	case model.RestorationFailureNeedsClean:
		for _, s := range seg.Clean {
			if err := req.RunStep(s); err != nil {
				return Outcome{}, err
			}
		}
	}

	// S5 RunRemaining.
	return c.runRemainingAndMaybeSave(req, resegmented, result, status, false)
}

// runAllNoCache implements the "CLI source or forked execution" branch
// of S0: every step runs, and the cache is never consulted.
func (c *Coordinator) runAllNoCache(req ModuleRequest) (Outcome, error) {
	for _, s := range req.Steps {
		if err := req.RunStep(s); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Result: model.CacheResult{Kind: model.ResultEmpty}}, nil
}

// runRemainingAndMaybeSave implements S5 RunRemaining followed by S6
// SaveIfNeeded and S7 FailFast. Whatever is currently sitting in the
// module's configured output directories is staged aside first, so a
// rebuild that only touches a subset of those directories never loses
// the rest: steps that actually rewrite an output claim it with
// Discard, and whatever nobody claims is put back by RestoreUntouched
// before finish (and the eventual save) sees the output tree.
func (c *Coordinator) runRemainingAndMaybeSave(req ModuleRequest, seg lifecycle.Segmentation, result model.CacheResult, status model.CacheRestorationStatus, alreadySaved bool) (Outcome, error) {
	remaining := append(append([]model.Step(nil), seg.Cached...), seg.PostCached...)

	var staged *restore.StagedSet
	if len(remaining) > 0 && len(req.OutputDirs) > 0 {
		var err error
		staged, err = restore.Stage(req.ModuleBase, outputDirPaths(req.OutputDirs))
		if err != nil {
			return Outcome{}, err
		}
	}

	for _, s := range remaining {
		if err := req.RunStep(s); err != nil {
			if staged != nil {
				staged.RestoreUntouched()
			}
			return Outcome{}, err
		}
	}

	if staged != nil {
		discardRebuiltOutputs(staged, req.ModuleBase, req.OutputDirs)
		if err := staged.RestoreUntouched(); err != nil {
			return Outcome{}, err
		}
	}

	return c.finish(req, result, model.RestorationFailure, alreadySaved, model.Build{})
}

func outputDirPaths(dirs []save.OutputDir) []string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = d.Path
	}
	return out
}

// discardRebuiltOutputs claims every file a rebuild left behind under
// dirs, so RestoreUntouched only puts back files the rebuild never
// touched.
func discardRebuiltOutputs(staged *restore.StagedSet, moduleBase string, dirs []save.OutputDir) {
	for _, d := range dirs {
		abs := filepath.Join(moduleBase, filepath.FromSlash(d.Path))
		filepath.Walk(abs, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				return nil
			}
			rel, rerr := filepath.Rel(moduleBase, path)
			if rerr != nil {
				return nil
			}
			staged.Discard(rel)
			return nil
		})
	}
}

// finish implements S6 SaveIfNeeded and S7 FailFast once every step that
// needed to run has run.
func (c *Coordinator) finish(req ModuleRequest, result model.CacheResult, status model.CacheRestorationStatus, alreadySaved bool, restoredBuild model.Build) (Outcome, error) {
	fullyRestored := status == model.RestorationSuccess
	saved := alreadySaved
	build := restoredBuild

	if c.RC.Config.Enabled && !c.RC.Config.SkipSave && !alreadySaved && (result.Kind != model.ResultSuccess || !fullyRestored) {
		b, err := c.save(req, result)
		if err != nil {
			log.Printf("cache %s: save failed: %v", req.Module, err)
		} else {
			saved = true
			build = b
			result.RebuiltBuild = &b
		}
	}

	if c.RC.Config.FailFast && result.Kind != model.ResultSuccess && !c.RC.Config.SkipCache {
		return Outcome{Result: result, Restoration: status, Saved: saved, Build: build},
			fmt.Errorf("cache %s: failFast: cache miss (%s)", req.Module, result.Kind)
	}

	return Outcome{Result: result, Restoration: status, Saved: saved, Build: build}, nil
}

func (c *Coordinator) save(req ModuleRequest, result model.CacheResult) (model.Build, error) {
	fp := result.Context.Fingerprint
	highest := highestRequestedPhase(c.Lifecycles, req.Steps)

	saveReq := save.Request{
		Module:                req.Module,
		Checksum:              fp.Checksum,
		Fingerprint:           fp,
		HighestCompletedPhase: highest,
		Goals:                 req.Goals,
		Steps:                 req.Steps,
		ParamSpecsOf:          req.ParamSpecsOf,
		LogAll:                c.RC.Config.Debug,
		ModuleBase:            req.ModuleBase,
		PrimaryArtifact:       req.PrimaryArtifact,
		OutputDirs:            req.OutputDirs,
		Algo:                  c.Algo,
		HashAlgorithmName:     c.Algo.Name(),
		SCM:                   c.RC.SCM,
		Final:                 c.RC.Config.RemoteSaveFinal,
		Local:                 c.Local,
		RemoteSaveEnabled:     c.RC.Config.RemoteSaveEnabled && c.Remote != nil,
		BaselineEnabled:       c.RC.Config.BaselineURL != "",
	}
	if c.Remote != nil {
		saveReq.Remote = c.Remote
	}
	saveEv := trace.Event("save "+req.Module.String(), 0)
	defer saveEv.Done()
	return save.Saver{}.Save(context.Background(), saveReq)
}

// findCachedBuild implements the C4/C5 half of S3: prefer a local
// record, else a previously-downloaded remote record, else (throttle
// permitting) a live remote fetch persisted for next time.
func (c *Coordinator) findCachedBuild(module model.Coordinate, checksum, requestedPhase string) (model.CacheResult, error) {
	build, ok, err := c.Local.FindLocal(module, checksum)
	if err != nil {
		return model.CacheResult{}, err
	}
	if !ok && c.Remote != nil && c.RC.Config.RemoteEnabled {
		build, ok, err = c.lookupRemote(module, checksum)
		if err != nil {
			return model.CacheResult{}, err
		}
	}
	if !ok {
		return model.CacheResult{Kind: model.ResultEmpty}, nil
	}

	reqOrd, reqOk := c.Lifecycles.Ordinal(requestedPhase)
	haveOrd, haveOk := c.Lifecycles.Ordinal(build.HighestCompletedPhase)
	if !reqOk || !haveOk {
		return model.CacheResult{Kind: model.ResultFailure, Build: &build}, nil
	}
	if haveOrd >= reqOrd {
		return model.CacheResult{Kind: model.ResultSuccess, Build: &build}, nil
	}
	return model.CacheResult{Kind: model.ResultPartialSuccess, Build: &build}, nil
}

func (c *Coordinator) lookupRemote(module model.Coordinate, checksum string) (model.Build, bool, error) {
	if b, ok, err := c.Local.FindRemoteTier(module, checksum, c.Remote.ServerID); err != nil {
		return model.Build{}, false, err
	} else if ok {
		return b, true, nil
	}

	if !c.Local.ShouldCallRemote(module, checksum, c.Remote.ServerID, timeNow()) {
		return model.Build{}, false, nil
	}

	b, ok, err := c.Remote.FetchBuildInfo(context.Background(), module, checksum)
	if err != nil {
		log.Printf("cache %s: remote lookup failed: %v", module, err)
		return model.Build{}, false, nil
	}
	if !ok {
		if err := c.Local.RecordNegativeLookup(module, checksum, c.Remote.ServerID); err != nil {
			log.Printf("cache %s: recording negative remote lookup: %v", module, err)
		}
		return model.Build{}, false, nil
	}
	if err := c.Local.PersistRemoteTier(module, checksum, c.Remote.ServerID, b); err != nil {
		return model.Build{}, false, err
	}
	return b, true, nil
}

// forcedSteps returns the subset of a cached segment that forced carves
// out as runAlways: Reconcile treats them as trivially consistent so the
// cache hit stands, but they still must execute for real, so the
// Restorer re-runs them instead of trusting the cached record.
func forcedSteps(cached []model.Step, forced reconcile.ForcedMatcher) []model.Step {
	if forced == nil {
		return nil
	}
	var out []model.Step
	for _, s := range cached {
		if forced.IsForced(s) {
			out = append(out, s)
		}
	}
	return out
}

// highestRequestedPhase returns the phase with the greatest lifecycle
// ordinal among steps, the "goal requested this run" that findCachedBuild
// compares against a cached record's highestCompletedPhase.
func highestRequestedPhase(lifecycles lifecycle.Lifecycles, steps []model.Step) string {
	var best string
	bestOrd := -1
	for _, s := range steps {
		ord, ok := lifecycles.Ordinal(s.Phase)
		if !ok {
			continue
		}
		if ord > bestOrd {
			bestOrd = ord
			best = s.Phase
		}
	}
	return best
}

// blobBridge satisfies restore.BlobSource by checking the local tier
// first and falling back to a remote fetch, persisting what it downloads
// so later restores within the same checksum never re-fetch.
type blobBridge struct {
	local         *localrepo.Repository
	remote        *remoterepo.Repository
	remoteEnabled bool
}

func (b *blobBridge) EnsureLocal(module model.Coordinate, checksum, fileName, localPath string) error {
	if _, err := os.Stat(localPath); err == nil {
		return nil
	}

	src := b.local.ArtifactPath(module, checksum, fileName)
	if data, err := os.ReadFile(src); err == nil {
		return writeLocalCopy(localPath, data)
	}

	if !b.remoteEnabled || b.remote == nil {
		return fmt.Errorf("artifact %s not present in the local tier and the remote tier is disabled", fileName)
	}
	rc, ok, err := b.remote.FetchArtifact(context.Background(), module, checksum, fileName, 0)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("artifact %s not found in the local or remote tier", fileName)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if err := b.local.SaveArtifact(module, checksum, fileName, data); err != nil {
		return err
	}
	return writeLocalCopy(localPath, data)
}

// timeNow is the single indirection point for "now" in the Coordinator,
// kept as a named function (rather than an inline time.Now() call) so a
// future test double can override it without touching call sites.
func timeNow() time.Time { return time.Now() }

func writeLocalCopy(localPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}
