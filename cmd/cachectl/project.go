package main

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/distr1/cachecore/internal/fingerprint"
	"github.com/distr1/cachecore/internal/localrepo"
	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/reconcile"
	"github.com/distr1/cachecore/internal/save"
)

// project is the on-disk JSON description of one module's cache-relevant
// state: its coordinates, declared inputs, ordered step list, and how to
// actually run each step. It stands in for the information the upstream
// build tool's in-memory MavenProject/MojoExecution graph would otherwise
// supply, the same way ModuleRequest's callback-shaped fields stand in
// for the orchestrator at the Coordinator boundary.
type project struct {
	Module     coordinateJSON `json:"module"`
	ModuleBase string         `json:"moduleBase"`

	DescriptorFile    string   `json:"descriptorFile"`
	ExcludeProperties []string `json:"excludeProperties"`

	SourceRoots []sourceRootJSON `json:"sourceRoots"`
	PluginScans []pluginScanJSON `json:"pluginScans"`

	ContributeProjectVersion bool `json:"contributeProjectVersion"`

	PrimaryArtifact artifactJSON   `json:"primaryArtifact"`
	OutputDirs      []outputDirJSON `json:"outputDirs"`

	Goals []string    `json:"goals"`
	Steps []stepJSON  `json:"steps"`
}

type coordinateJSON struct {
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	Version    string `json:"version"`
}

func (c coordinateJSON) toModel() model.Coordinate {
	return model.Coordinate{GroupID: c.GroupID, ArtifactID: c.ArtifactID, Version: c.Version}
}

type sourceRootJSON struct {
	IncludeRoot string   `json:"includeRoot"`
	Glob        string   `json:"glob"`
	Exclude     []string `json:"exclude"`
	Blacklist   []string `json:"blacklist"`
}

type pluginScanJSON struct {
	ExecutionKey string   `json:"executionKey"`
	Paths        []string `json:"paths"`
}

type artifactJSON struct {
	Classifier string `json:"classifier"`
	Type       string `json:"type"`
	FileName   string `json:"fileName"`
	FilePath   string `json:"filePath"`
}

func (a artifactJSON) toModel(c model.Coordinate) model.ArtifactDescriptor {
	return model.ArtifactDescriptor{
		GroupID: c.GroupID, ArtifactID: c.ArtifactID, Version: c.Version,
		Classifier: a.Classifier, Type: a.Type, FileName: a.FileName, FilePath: a.FilePath,
	}
}

type outputDirJSON struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type parameterJSON struct {
	Name      string `json:"name"`
	Tracked   bool   `json:"tracked"`
	NoLog     bool   `json:"noLog"`
	SkipValue string `json:"skipValue"`
}

type stepJSON struct {
	ExecutionID string          `json:"executionId"`
	Goal        string          `json:"goal"`
	Phase       string          `json:"phase"`
	Plugin      coordinateJSON  `json:"plugin"`
	Forced      bool            `json:"forced"`
	Parameters  []parameterJSON `json:"parameters"`
	Values      map[string]interface{} `json:"values"`
	Command     []string        `json:"command"`
}

func loadProject(path string) (*project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// introspect implements model.ParameterIntrospectable over a step's
// declared JSON values map.
type introspect map[string]interface{}

func (m introspect) ValueOf(name string) (interface{}, bool) {
	v, ok := m[name]
	return v, ok
}

func (p *project) steps() []model.Step {
	out := make([]model.Step, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = model.Step{
			ExecutionID: s.ExecutionID,
			Goal:        s.Goal,
			Phase:       s.Phase,
			Plugin:      model.PluginCoordinate(s.Plugin.toModel()),
			Source:      model.SourceLifecycle,
			Introspect:  introspect(s.Values),
			Forced:      s.Forced,
		}
	}
	return out
}

func (p *project) trackedOf(step model.Step) []reconcile.TrackedParameter {
	js, ok := p.stepJSONByKey(step.Key())
	if !ok {
		return nil
	}
	var out []reconcile.TrackedParameter
	for _, param := range js.Parameters {
		if param.Tracked {
			out = append(out, reconcile.TrackedParameter{Name: param.Name, SkipValue: param.SkipValue})
		}
	}
	return out
}

func (p *project) paramSpecsOf(step model.Step) []save.ParameterSpec {
	js, ok := p.stepJSONByKey(step.Key())
	if !ok {
		return nil
	}
	out := make([]save.ParameterSpec, len(js.Parameters))
	for i, param := range js.Parameters {
		out[i] = save.ParameterSpec{Name: param.Name, Tracked: param.Tracked, NoLog: param.NoLog}
	}
	return out
}

func (p *project) stepJSONByKey(key string) (stepJSON, bool) {
	for _, s := range p.Steps {
		candidate := model.Step{
			ExecutionID: s.ExecutionID, Goal: s.Goal, Phase: s.Phase,
			Plugin: model.PluginCoordinate(s.Plugin.toModel()),
		}
		if candidate.Key() == key {
			return s, true
		}
	}
	return stepJSON{}, false
}

// runStep executes a step's declared command, if any, as a subprocess in
// the module base directory. A step with no command is a no-op, e.g. one
// whose only purpose is recording tracked parameters in the build record
// (a configuration-only goal).
func (p *project) runStep(step model.Step) error {
	js, ok := p.stepJSONByKey(step.Key())
	if !ok || len(js.Command) == 0 {
		return nil
	}
	cmd := exec.Command(js.Command[0], js.Command[1:]...)
	cmd.Dir = p.ModuleBase
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (p *project) moduleInputs() (fingerprint.ModuleInputs, error) {
	inputs := fingerprint.ModuleInputs{
		ExcludeProperties:        p.ExcludeProperties,
		ContributeProjectVersion: p.ContributeProjectVersion,
		ProjectVersion:           p.Module.Version,
	}
	if p.DescriptorFile != "" {
		data, err := os.ReadFile(filepath.Join(p.ModuleBase, p.DescriptorFile))
		if err != nil {
			return fingerprint.ModuleInputs{}, err
		}
		inputs.Descriptor = data
	}
	for _, r := range p.SourceRoots {
		inputs.SourceRoots = append(inputs.SourceRoots, fingerprint.SourceRoot{
			IncludeRoot: filepath.Join(p.ModuleBase, r.IncludeRoot),
			Glob:        r.Glob,
			Exclude:     r.Exclude,
			Blacklist:   r.Blacklist,
		})
	}
	for _, s := range p.PluginScans {
		paths := make([]string, len(s.Paths))
		for i, pth := range s.Paths {
			paths[i] = filepath.Join(p.ModuleBase, pth)
		}
		inputs.PluginScans = append(inputs.PluginScans, fingerprint.PluginScan{ExecutionKey: s.ExecutionKey, Paths: paths})
	}
	return inputs, nil
}

// noReactorDeps is a ModuleInputsProvider for a CLI run over a single
// module: every dependency is treated as external, falling through to
// BuildLookup.
type noReactorDeps struct{}

func (noReactorDeps) ModuleInputs(model.Coordinate) (fingerprint.ModuleInputs, bool, error) {
	return fingerprint.ModuleInputs{}, false, nil
}

// localLookup adapts localrepo.Repository to fingerprint.BuildLookup for
// external dependencies: the best-matching cached build's checksum only;
// it never reports a resolved artifact path.
type localLookup struct {
	local     *localrepo.Repository
	scmBranch string
}

func (l localLookup) BestMatchingChecksum(dep model.Coordinate) (string, bool, error) {
	b, ok, err := l.local.FindBestMatchingBuild(dep, l.scmBranch)
	if err != nil || !ok {
		return "", ok, err
	}
	return b.Fingerprint.Checksum, true, nil
}

func (l localLookup) ResolvedArtifactPath(model.Coordinate) (string, bool, error) {
	// A CLI run over a single module has no dependency resolver; every
	// dependency falls back to its best-matching cached checksum only.
	return "", false, nil
}

// alwaysRunMatcher implements reconcile.ForcedMatcher from a step's own
// Forced flag plus the configured alwaysRunPlugins wildcard list
// ("plugin" or "plugin:goal" entries).
type alwaysRunMatcher struct {
	patterns []string
}

func (m alwaysRunMatcher) IsForced(step model.Step) bool {
	if step.Forced {
		return true
	}
	for _, pat := range m.patterns {
		if pat == step.Plugin.ArtifactID || pat == step.Plugin.ArtifactID+":"+step.Goal {
			return true
		}
	}
	return false
}
