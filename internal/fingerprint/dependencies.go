package fingerprint

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/distr1/cachecore/internal/hashalgo"
	"github.com/distr1/cachecore/internal/model"
)

// Dependency is one resolved dependency edge to fingerprint.
type Dependency struct {
	Coordinate model.Coordinate
	Classifier string
	Type       string
}

// sortKey is the ordering key from §4.3: "groupId:artifactId:version:classifier?:type".
func (d Dependency) sortKey() string {
	return d.Coordinate.String() + ":" + d.Classifier + ":" + d.Type
}

// BuildLookup resolves one dependency to either a previously cached
// build's aggregate checksum (preferred), the content hash of its
// resolved artifact file (fallback), or neither (the dependency is
// recorded as unresolved). It is implemented by the component wiring
// together C3 and C4 (the Coordinator), keeping InputFingerprinter
// itself free of any direct LocalRepository dependency.
type BuildLookup interface {
	// BestMatchingChecksum returns the aggregate checksum of dep's
	// best-matching cached build, if one exists.
	BestMatchingChecksum(dep model.Coordinate) (checksum string, ok bool, err error)
	// ResolvedArtifactPath returns the on-disk path of dep's resolved
	// artifact file, if the dependency resolved to one.
	ResolvedArtifactPath(dep model.Coordinate) (path string, ok bool, err error)
}

// depGraph tracks the dependency edges visited during one top-level
// fingerprint computation, so that a cycle can be reported with the
// full chain of coordinates that produced it (CycleError.Chain),
// computed via gonum's Tarjan SCC rather than hand-rolled DFS
// bookkeeping.
type depGraph struct {
	g       *simple.DirectedGraph
	idOf    map[string]int64
	nodeOf  map[int64]model.Coordinate
	nextID  int64
}

func newDepGraph() *depGraph {
	return &depGraph{
		g:      simple.NewDirectedGraph(),
		idOf:   make(map[string]int64),
		nodeOf: make(map[int64]model.Coordinate),
	}
}

func (d *depGraph) nodeID(c model.Coordinate) int64 {
	key := c.String()
	if id, ok := d.idOf[key]; ok {
		return id
	}
	id := d.nextID
	d.nextID++
	d.idOf[key] = id
	d.nodeOf[id] = c
	d.g.AddNode(simple.Node(id))
	return id
}

func (d *depGraph) addEdge(from, to model.Coordinate) {
	fid, tid := d.nodeID(from), d.nodeID(to)
	if fid == tid {
		return
	}
	d.g.SetEdge(d.g.NewEdge(simple.Node(fid), simple.Node(tid)))
}

// cycleChain returns the strongly connected component containing start
// that has more than one member (i.e. an actual cycle, not a trivial
// singleton), as an ordered chain of coordinates suitable for
// CycleError.Chain.
func (d *depGraph) cycleChain(start model.Coordinate) []model.Coordinate {
	for _, scc := range topo.TarjanSCC(d.g) {
		if len(scc) < 2 {
			continue
		}
		var inSCC bool
		for _, n := range scc {
			if d.nodeOf[n.ID()] == start {
				inSCC = true
				break
			}
		}
		if !inSCC {
			continue
		}
		chain := make([]model.Coordinate, 0, len(scc)+1)
		for _, n := range scc {
			chain = append(chain, d.nodeOf[n.ID()])
		}
		sort.Slice(chain, func(i, j int) bool { return chain[i].String() < chain[j].String() })
		return append(chain, start)
	}
	return []model.Coordinate{start}
}

// sortDependencies returns deps ordered per §4.3 item 4.
func sortDependencies(deps []Dependency) []Dependency {
	sorted := append([]Dependency(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].sortKey() < sorted[j].sortKey() })
	return sorted
}

// resolveByLookup is the non-recursive fallback used once a dependency
// turns out not to be a module this run is itself fingerprinting: it
// consults the best-matching cached build, then the resolved artifact's
// content hash, then gives up and reports the dependency unresolved.
func resolveByLookup(dep model.Coordinate, lookup BuildLookup, algo hashalgo.Algorithm) (hash string, resolved bool, err error) {
	if checksum, ok, err := lookup.BestMatchingChecksum(dep); err != nil {
		return "", false, err
	} else if ok {
		return checksum, true, nil
	}
	if path, ok, err := lookup.ResolvedArtifactPath(dep); err != nil {
		return "", false, err
	} else if ok {
		h, err := algo.HashFile(path)
		if err != nil {
			return "", false, err
		}
		return h, true, nil
	}
	return "", false, nil
}

// dependencyItems resolves each dependency to a DigestItem, ordered per
// §4.3 item 4, using resolve to obtain each one's contributing hash.
// resolve returns resolved=false only when the dependency is genuinely
// unresolved (no cached build, no artifact file, not a recursively
// fingerprinted module), which dependencyItems records as an
// "unresolved" item rather than failing the whole computation.
func dependencyItems(deps []Dependency, resolve func(Dependency) (hash string, resolved bool, err error)) ([]model.DigestItem, error) {
	sorted := sortDependencies(deps)

	items := make([]model.DigestItem, 0, len(sorted))
	for _, dep := range sorted {
		hash, resolved, err := resolve(dep)
		if err != nil {
			return nil, err
		}
		if resolved {
			items = append(items, model.DigestItem{
				Type: "dependency",
				Key:  dep.sortKey(),
				Hash: hash,
			})
			continue
		}
		items = append(items, model.DigestItem{
			Type: "unresolved",
			Key:  dep.sortKey(),
			Hash: "unresolved:" + dep.sortKey(),
		})
	}
	return items, nil
}
