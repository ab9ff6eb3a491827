// Package save implements C9, the Saver: packaging a fresh rebuild's
// outputs and parameter state into a Build record, publishing it to the
// local tier (and, optionally, the remote tier). Follows Ctx.Package()
// (internal/build), which likewise walks a set of declared output
// directories and assembles a manifest describing what a build produced.
package save

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/distr1/cachecore/internal/archive"
	"github.com/distr1/cachecore/internal/hashalgo"
	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/reconcile"
	"github.com/distr1/cachecore/internal/xmlschema"
)

// OutputDir names one configured extra-output directory to collect and
// pack as an attached artifact if non-empty (e.g. a generated-sources
// directory).
type OutputDir struct {
	Path string // module-base-relative
	Type string // classifier prefix, e.g. "generated-sources"
}

// ParameterSpec names one step parameter the Saver records: Tracked
// parameters participate in later reconciliation; NoLog parameters are
// redacted from the saved record unless LogAll or ForceLog overrides it.
type ParameterSpec struct {
	Name    string
	Tracked bool
	NoLog   bool
}

// LocalStore is the subset of localrepo.Repository the Saver writes
// through.
type LocalStore interface {
	BeforeSave(module model.Coordinate) error
	SaveArtifact(module model.Coordinate, checksum, fileName string, data []byte) error
	SaveBuild(module model.Coordinate, checksum string, b model.Build) error
	SaveReport(module model.Coordinate, checksum, relPath string, data []byte) error
	ClearCache(module model.Coordinate, checksum string) error
}

// RemotePush is the subset of remoterepo.Repository the Saver pushes
// through when remote save is enabled.
type RemotePush interface {
	PutBuildInfo(ctx context.Context, module model.Coordinate, checksum string, b model.Build) error
	PutArtifact(ctx context.Context, module model.Coordinate, checksum, fileName string, data []byte) error
	PutReport(ctx context.Context, relPath string, data []byte) error
	FindBaseline(ctx context.Context, module model.Coordinate) (model.Build, bool, error)
}

// Request is everything the Saver needs for one module's save.
type Request struct {
	Module      model.Coordinate
	Checksum    string
	Fingerprint model.ProjectsInputInfo

	HighestCompletedPhase string
	Goals                 []string

	Steps       []model.Step
	ParamSpecsOf func(model.Step) []ParameterSpec
	LogAll       bool
	ForceLog     map[string]bool

	ModuleBase      string
	PrimaryArtifact model.ArtifactDescriptor // FilePath/FileName/Type/Classifier pre-filled; FileHash/FileSize computed here
	OutputDirs      []OutputDir

	Algo              hashalgo.Algorithm
	HashAlgorithmName string
	SCM               model.SCMInfo
	Final             bool

	Local LocalStore

	RemoteSaveEnabled bool
	Remote            RemotePush

	BaselineEnabled bool
}

// Saver executes C9's save procedure.
type Saver struct{}

// Save runs the save procedure and returns the assembled Build record.
// On any local-write failure, the module's local tree is
// evicted (ClearCache) so no half-saved state survives, and the original
// error is returned wrapped as *model.SaveError.
func (Saver) Save(ctx context.Context, req Request) (model.Build, error) {
	primaryPath := filepath.Join(req.ModuleBase, filepath.FromSlash(req.PrimaryArtifact.FilePath))
	primaryData, err := os.ReadFile(primaryPath)
	if err != nil {
		return model.Build{}, &model.SaveError{Checksum: req.Checksum, Err: err}
	}
	primary := req.PrimaryArtifact
	primary.FileHash = req.Algo.HashBytes(primaryData)
	primary.FileSize = int64(len(primaryData))

	attached, blobs, err := collectAttachedArtifacts(req.ModuleBase, req.OutputDirs, req.Algo)
	if err != nil {
		return model.Build{}, &model.SaveError{Checksum: req.Checksum, Err: err}
	}

	executions := make([]model.CompletedExecution, len(req.Steps))
	for i, s := range req.Steps {
		executions[i] = buildExecution(s, req.ParamSpecsOf(s), req.LogAll, req.ForceLog, req.ModuleBase)
	}

	build := model.Build{
		CacheImplementationVersion: model.CacheImplementationVersion,
		HashAlgorithm:              req.HashAlgorithmName,
		Final:                      req.Final,
		SCM:                        req.SCM,
		Fingerprint:                req.Fingerprint,
		HighestCompletedPhase:      req.HighestCompletedPhase,
		Artifact:                   primary,
		AttachedArtifacts:          attached,
		Executions:                 executions,
		Goals:                      append([]string(nil), req.Goals...),
		Source:                     model.SourceBuild,
	}

	if err := req.Local.BeforeSave(req.Module); err != nil {
		return model.Build{}, &model.SaveError{Checksum: req.Checksum, Err: err}
	}
	if err := req.Local.SaveArtifact(req.Module, req.Checksum, primary.FileName, primaryData); err != nil {
		req.Local.ClearCache(req.Module, req.Checksum)
		return model.Build{}, err
	}
	for fileName, data := range blobs {
		if err := req.Local.SaveArtifact(req.Module, req.Checksum, fileName, data); err != nil {
			req.Local.ClearCache(req.Module, req.Checksum)
			return model.Build{}, err
		}
	}
	if err := req.Local.SaveBuild(req.Module, req.Checksum, build); err != nil {
		req.Local.ClearCache(req.Module, req.Checksum)
		return model.Build{}, err
	}

	if req.RemoteSaveEnabled && !build.Final && req.Remote != nil {
		if err := req.Remote.PutArtifact(ctx, req.Module, req.Checksum, primary.FileName, primaryData); err != nil {
			logRemoteFailure(err)
		} else {
			for fileName, data := range blobs {
				if err := req.Remote.PutArtifact(ctx, req.Module, req.Checksum, fileName, data); err != nil {
					logRemoteFailure(err)
				}
			}
			if err := req.Remote.PutBuildInfo(ctx, req.Module, req.Checksum, build); err != nil {
				logRemoteFailure(err)
			}
		}
	}

	if req.BaselineEnabled && req.Remote != nil {
		if baseline, ok, err := req.Remote.FindBaseline(ctx, req.Module); err == nil && ok {
			diff := diffFingerprints(build.Fingerprint, baseline.Fingerprint)
			if len(diff.Mismatches) > 0 {
				data, err := xmlschema.MarshalDiff(diff)
				if err == nil {
					req.Local.SaveReport(req.Module, req.Checksum, fmt.Sprintf("diff-%s.xml", req.Checksum), data)
				}
			}
		}
	}

	return build, nil
}

// logRemoteFailure keeps remote push failures non-fatal: network
// failures against the remote tier are logged and never abort the
// surrounding build.
func logRemoteFailure(err error) {
	log.Printf("save: remote push failed: %v", err)
}

func buildExecution(step model.Step, specs []ParameterSpec, logAll bool, forceLog map[string]bool, moduleBase string) model.CompletedExecution {
	props := make([]model.PropertyValue, 0, len(specs))
	for _, spec := range specs {
		value := "null"
		if raw, ok := step.Introspect.ValueOf(spec.Name); ok {
			value = reconcile.Normalize(raw, moduleBase)
		}
		if spec.NoLog && !logAll && !forceLog[spec.Name] {
			value = "[redacted]"
		}
		props = append(props, model.PropertyValue{Name: spec.Name, Value: value, Tracked: spec.Tracked})
	}
	return model.CompletedExecution{
		ExecutionKey:  step.Key(),
		MojoClassName: step.Plugin.ArtifactID + ":" + step.Goal,
		Properties:    props,
	}
}

// collectAttachedArtifacts packs each non-empty configured output
// directory into an archive, returning its descriptor and packed bytes
// keyed by file name.
func collectAttachedArtifacts(moduleBase string, dirs []OutputDir, algo hashalgo.Algorithm) ([]model.ArtifactDescriptor, map[string][]byte, error) {
	counters := make(map[string]int)
	var descriptors []model.ArtifactDescriptor
	blobs := make(map[string][]byte)

	tmp, err := os.MkdirTemp("", "cache-save-*")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(tmp)

	for _, d := range dirs {
		src := filepath.Join(moduleBase, filepath.FromSlash(d.Path))
		counters[d.Type]++
		classifier := fmt.Sprintf("%s_%d", d.Type, counters[d.Type])
		fileName := classifier + ".tar.zst"
		dstFile := filepath.Join(tmp, fileName)

		matched, err := archive.Pack(src, dstFile, archive.Options{PreservePermissions: true, PreserveTimestamps: true})
		if err != nil {
			return nil, nil, err
		}
		if !matched {
			continue
		}
		data, err := os.ReadFile(dstFile)
		if err != nil {
			return nil, nil, err
		}
		descriptors = append(descriptors, model.ArtifactDescriptor{
			Classifier: classifier,
			Type:       "dir-archive",
			FileName:   fileName,
			FileHash:   algo.HashBytes(data),
			FileSize:   int64(len(data)),
			FilePath:   filepath.ToSlash(d.Path),
		})
		blobs[fileName] = data
	}
	return descriptors, blobs, nil
}

// diffFingerprints compares fresh against baseline by item key, producing
// a mismatch entry for every item whose hash differs or that exists on
// only one side.
func diffFingerprints(fresh, baseline model.ProjectsInputInfo) xmlschema.Diff {
	byKey := make(map[string]model.DigestItem, len(baseline.Items))
	for _, it := range baseline.Items {
		byKey[it.Key] = it
	}
	var mismatches []xmlschema.Mismatch
	seen := make(map[string]bool, len(fresh.Items))
	for _, it := range fresh.Items {
		seen[it.Key] = true
		b, ok := byKey[it.Key]
		if !ok {
			mismatches = append(mismatches, xmlschema.Mismatch{Item: it.Key, Current: it.Hash, Baseline: "", Reason: "absent from baseline", Resolution: "n/a"})
			continue
		}
		if b.Hash != it.Hash {
			mismatches = append(mismatches, xmlschema.Mismatch{Item: it.Key, Current: it.Hash, Baseline: b.Hash, Reason: "hash differs from baseline", Resolution: "n/a"})
		}
	}
	for _, it := range baseline.Items {
		if !seen[it.Key] {
			mismatches = append(mismatches, xmlschema.Mismatch{Item: it.Key, Current: "", Baseline: it.Hash, Reason: "absent from current run", Resolution: "n/a"})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Item < mismatches[j].Item })
	return xmlschema.Diff{Mismatches: mismatches}
}
