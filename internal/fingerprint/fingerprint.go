// Package fingerprint implements C3, the InputFingerprinter: computing a
// deterministic ProjectsInputInfo for one module from its effective
// descriptor, source tree, plugin graph and dependency graph, memoized
// and cycle-guarded through a model.RunContext.
package fingerprint

import (
	"sort"

	"github.com/distr1/cachecore/internal/hashalgo"
	"github.com/distr1/cachecore/internal/model"
)

// ModuleInputs names everything one module contributes to its own
// fingerprint. Descriptor is the raw, already-merged effective descriptor
// XML (nil if the module has none); ExcludeProperties names the
// <properties> children the descriptor canonicalizer drops.
type ModuleInputs struct {
	Descriptor        []byte
	ExcludeProperties []string

	SourceRoots []SourceRoot
	PluginScans []PluginScan
	Dependencies []Dependency

	// ContributeProjectVersion adds the module's own version string as a
	// final digest item, for descriptors that opt into version-sensitive
	// caching (a version bump alone busts the cache even with unchanged
	// content).
	ContributeProjectVersion bool
	ProjectVersion           string
}

// ModuleInputsProvider resolves a dependency coordinate to the inputs
// needed to fingerprint it, when that dependency is itself a module this
// run builds (a "reactor" dependency, in the source system's terms).
// ok=false means dep is external to the run; the Fingerprinter falls back
// to BuildLookup.
type ModuleInputsProvider interface {
	ModuleInputs(dep model.Coordinate) (inputs ModuleInputs, ok bool, err error)
}

// Fingerprinter computes ProjectsInputInfo for one module at a time,
// recursing into reactor dependencies as needed and memoizing every
// result (including dependencies') in the shared RunContext so no module
// is ever fingerprinted twice in one run.
type Fingerprinter struct {
	RC   *model.RunContext
	Algo hashalgo.Algorithm
}

// New returns a Fingerprinter using the named hash algorithm.
func New(rc *model.RunContext, algo hashalgo.Algorithm) *Fingerprinter {
	return &Fingerprinter{RC: rc, Algo: algo}
}

// Compute returns module's fingerprint, computing it if not already
// memoized. provider supplies reactor-dependency inputs for recursion;
// lookup resolves non-reactor dependencies via their best-matching cached
// build or resolved artifact file.
func (f *Fingerprinter) Compute(module model.Coordinate, inputs ModuleInputs, provider ModuleInputsProvider, lookup BuildLookup) (model.ProjectsInputInfo, error) {
	token := new(int)
	f.RC.InFlightBegin(token)
	defer f.RC.InFlightEnd(token)
	return f.computeRecursive(module, inputs, provider, lookup, token, newDepGraph())
}

func (f *Fingerprinter) computeRecursive(module model.Coordinate, inputs ModuleInputs, provider ModuleInputsProvider, lookup BuildLookup, token *int, graph *depGraph) (model.ProjectsInputInfo, error) {
	key := module.String()
	if fp, ok := f.RC.MemoizedFingerprint(key); ok {
		return fp, nil
	}

	if f.RC.InFlightContains(token, key) {
		return model.ProjectsInputInfo{}, &model.FingerprintError{
			Module: module,
			Err:    &model.CycleError{Chain: graph.cycleChain(module)},
		}
	}
	f.RC.InFlightAdd(token, key)
	defer f.RC.InFlightRemove(token, key)

	var items []model.DigestItem

	if inputs.Descriptor != nil {
		canon, err := canonicalizeDescriptor(inputs.Descriptor, inputs.ExcludeProperties)
		if err != nil {
			return model.ProjectsInputInfo{}, &model.FingerprintError{Module: module, Err: err}
		}
		items = append(items, model.DigestItem{
			Type: "pom",
			Key:  "descriptor",
			Hash: f.Algo.HashBytes(canon),
		})
	}

	srcItems, err := sourceTreeItems(inputs.SourceRoots, f.Algo)
	if err != nil {
		return model.ProjectsInputInfo{}, &model.FingerprintError{Module: module, Err: err}
	}
	items = append(items, srcItems...)

	pluginItems, err := pluginGraphItems(inputs.PluginScans, f.Algo)
	if err != nil {
		return model.ProjectsInputInfo{}, &model.FingerprintError{Module: module, Err: err}
	}
	items = append(items, pluginItems...)

	resolve := func(dep Dependency) (string, bool, error) {
		if fp, ok := f.RC.MemoizedFingerprint(dep.Coordinate.String()); ok {
			return fp.Checksum, true, nil
		}
		if depInputs, ok, err := provider.ModuleInputs(dep.Coordinate); err != nil {
			return "", false, err
		} else if ok {
			graph.addEdge(module, dep.Coordinate)
			depFP, err := f.computeRecursive(dep.Coordinate, depInputs, provider, lookup, token, graph)
			if err != nil {
				return "", false, err
			}
			f.RC.StoreFingerprint(dep.Coordinate.String(), depFP)
			return depFP.Checksum, true, nil
		}
		return resolveByLookup(dep.Coordinate, lookup, f.Algo)
	}
	depItems, err := dependencyItems(inputs.Dependencies, resolve)
	if err != nil {
		if cycleErr, ok := err.(*model.FingerprintError); ok {
			return model.ProjectsInputInfo{}, cycleErr
		}
		return model.ProjectsInputInfo{}, &model.FingerprintError{Module: module, Err: err}
	}
	items = append(items, depItems...)

	if inputs.ContributeProjectVersion {
		items = append(items, model.DigestItem{
			Type: "projectVersion",
			Key:  "projectVersion",
			Hash: f.Algo.HashBytes([]byte(inputs.ProjectVersion)),
		})
	}

	// Items from each source are already individually sorted; this final
	// sort imposes one canonical total order (pom, then file, then
	// plugin, then dependency/unresolved, then projectVersion) across all
	// of them so the aggregate checksum never depends on call order.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Type != items[j].Type {
			return typeRank(items[i].Type) < typeRank(items[j].Type)
		}
		return items[i].Key < items[j].Key
	})

	agg := f.Algo.New()
	for _, it := range items {
		agg.Update([]byte(it.Hash))
	}

	fp := model.ProjectsInputInfo{Checksum: agg.Finalize(), Items: items}
	f.RC.StoreFingerprint(key, fp)
	return fp, nil
}

func typeRank(t string) int {
	switch t {
	case "pom":
		return 0
	case "file":
		return 1
	case "plugin":
		return 2
	case "dependency", "unresolved":
		return 3
	case "projectVersion":
		return 4
	default:
		return 5
	}
}
