package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	cachecore "github.com/distr1/cachecore"
	"github.com/distr1/cachecore/internal/env"
	"github.com/distr1/cachecore/internal/fingerprint"
	"github.com/distr1/cachecore/internal/hashalgo"
	"github.com/distr1/cachecore/internal/lifecycle"
	"github.com/distr1/cachecore/internal/localrepo"
	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/remoterepo"
	"github.com/distr1/cachecore/internal/restore"
	"github.com/distr1/cachecore/internal/save"
)

const runHelp = `cachectl run [-flags] -project <file> [-project <file> ...]

Run one or more modules through the build cache: compute each module's
fingerprint, consult the local (and, if configured, remote) cache tier,
restore on a hit, rebuild and save on a miss.

Every -project names a JSON module descriptor (see project.go). Modules
named in the same invocation run concurrently against one shared
RunContext, exactly as sibling modules of one orchestrated build would.
`

type stringList []string

func (s *stringList) String() string     { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func cmdrun(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("run", flag.ExitOnError)
	var projects stringList
	fset.Var(&projects, "project", "path to a module's JSON project descriptor (repeatable)")
	algoName := fset.String("hash", "SHA-256", "hash algorithm: SHA-256, SHA-1, XX, or XXMM")
	remoteURL := fset.String("remote_url", "", "base URL of the remote cache tier (disabled if empty)")
	remoteServerID := fset.String("remote_server_id", "origin", "server id for the remote tier's on-disk namespace")
	skipCache := fset.Bool("skip_cache", false, "bypass cache lookup; always rebuild")
	skipSave := fset.Bool("skip_save", false, "never save a fresh build's outputs")
	failFast := fset.Bool("fail_fast", false, "abort the module on any cache miss")
	fset.Usage = func() { fmt.Print(runHelp); fset.PrintDefaults() }
	fset.Parse(args)

	if len(projects) == 0 {
		return fmt.Errorf("at least one -project is required")
	}

	algo, err := hashalgo.Factory{}.Of(*algoName)
	if err != nil {
		return err
	}

	local, err := localrepo.New(env.CacheRoot, model.DefaultConfig().MaxLocalBuildsCached)
	if err != nil {
		return err
	}

	var remote *remoterepo.Repository
	if *remoteURL != "" {
		user, pass := env.RemoteCredentials()
		remote = remoterepo.New(*remoteURL, *remoteServerID, remoterepo.ResolveCredentials(user, pass))
	}

	cfg := model.DefaultConfig()
	cfg.RemoteEnabled = remote != nil
	cfg.SkipCache = *skipCache
	cfg.SkipSave = *skipSave
	cfg.FailFast = *failFast
	cfg.Debug = *debug

	rc := model.NewRunContext(cfg)
	lifecycles := lifecycle.NewStandardLifecycles()
	coordinator := cachecore.New(rc, local, remote, lifecycles, algo)

	var eg errgroup.Group
	for _, path := range projects {
		path := path
		eg.Go(func() error {
			return runOne(ctx, coordinator, rc, algo, local, path)
		})
	}
	return eg.Wait()
}

func runOne(ctx context.Context, coordinator *cachecore.Coordinator, rc *model.RunContext, algo hashalgo.Algorithm, local *localrepo.Repository, path string) error {
	p, err := loadProject(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	module := p.Module.toModel()
	inputs, err := p.moduleInputs()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	rc.InitSCM(func() model.SCMInfo { return model.SCMInfo{} })

	req := cachecore.ModuleRequest{
		Module:          module,
		Source:          model.SourceLifecycle,
		Steps:           p.steps(),
		Inputs:          inputs,
		Provider:        noReactorDeps{},
		Lookup:          localLookup{local: local, scmBranch: rc.SCM.SourceBranch},
		ModuleBase:      p.ModuleBase,
		PrimaryArtifact: p.PrimaryArtifact.toModel(module),
		TrackedOf:       p.trackedOf,
		CachedExecutionOf: cachedExecutionOf(rc, local, algo, module, inputs),
		ParamSpecsOf:    p.paramSpecsOf,
		Forced:          alwaysRunMatcher{},
		ForkedPhaseOf:   func(model.Step) (string, bool) { return "", false },
		RunStep:         p.runStep,
		AttachArtifact: func(_ model.ArtifactDescriptor, h *restore.ArtifactHandle) error {
			return h.Materialize()
		},
		Goals: p.Goals,
	}
	for _, d := range p.OutputDirs {
		req.OutputDirs = append(req.OutputDirs, save.OutputDir{Path: d.Path, Type: d.Type})
	}

	outcome, err := coordinator.Run(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	log.Printf("%s: result=%s restoration=%s saved=%v", module, outcome.Result.Kind, outcome.Restoration, outcome.Saved)
	return nil
}

// cachedExecutionOf returns a closure resolving a step's cached
// CompletedExecution, pre-computing the module's fingerprint and local
// lookup once up front. The Coordinator recomputes the same fingerprint
// internally; RunContext's memoization (see model.RunContext) makes the
// second computation free, so both call sites agree on exactly the same
// cached build without the Coordinator needing to expose it ahead of
// time.
func cachedExecutionOf(rc *model.RunContext, local *localrepo.Repository, algo hashalgo.Algorithm, module model.Coordinate, inputs fingerprint.ModuleInputs) func(model.Step) (model.CompletedExecution, bool) {
	fp, err := fingerprint.New(rc, algo).Compute(module, inputs, noReactorDeps{}, localLookup{local: local})
	if err != nil {
		return func(model.Step) (model.CompletedExecution, bool) { return model.CompletedExecution{}, false }
	}
	build, ok, err := local.FindLocal(module, fp.Checksum)
	if err != nil || !ok {
		return func(model.Step) (model.CompletedExecution, bool) { return model.CompletedExecution{}, false }
	}
	byKey := make(map[string]model.CompletedExecution, len(build.Executions))
	for _, e := range build.Executions {
		byKey[e.ExecutionKey] = e
	}
	return func(s model.Step) (model.CompletedExecution, bool) {
		e, ok := byKey[s.Key()]
		return e, ok
	}
}
