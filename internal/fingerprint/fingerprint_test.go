package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/cachecore/internal/hashalgo"
	"github.com/distr1/cachecore/internal/model"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

type fixedLookup struct {
	checksums map[string]string
	paths     map[string]string
}

func (f fixedLookup) BestMatchingChecksum(dep model.Coordinate) (string, bool, error) {
	c, ok := f.checksums[dep.String()]
	return c, ok, nil
}

func (f fixedLookup) ResolvedArtifactPath(dep model.Coordinate) (string, bool, error) {
	p, ok := f.paths[dep.String()]
	return p, ok, nil
}

type mapProvider map[string]ModuleInputs

func (m mapProvider) ModuleInputs(dep model.Coordinate) (ModuleInputs, bool, error) {
	in, ok := m[dep.String()]
	return in, ok, nil
}

func algo(t *testing.T) hashalgo.Algorithm {
	t.Helper()
	a, err := hashalgo.Factory{}.Of("SHA-256")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestComputeDeterministic(t *testing.T) {
	src := t.TempDir()
	writeTestFile(t, filepath.Join(src, "main.go"), "package main")

	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	inputs := ModuleInputs{
		SourceRoots: []SourceRoot{{IncludeRoot: src}},
	}

	a := algo(t)
	rc1 := model.NewRunContext(model.DefaultConfig())
	fp1, err := New(rc1, a).Compute(module, inputs, mapProvider{}, fixedLookup{})
	if err != nil {
		t.Fatal(err)
	}

	rc2 := model.NewRunContext(model.DefaultConfig())
	fp2, err := New(rc2, a).Compute(module, inputs, mapProvider{}, fixedLookup{})
	if err != nil {
		t.Fatal(err)
	}

	if fp1.Checksum != fp2.Checksum {
		t.Fatalf("expected identical checksums, got %s vs %s", fp1.Checksum, fp2.Checksum)
	}
}

func TestComputeMemoizesWithinRunContext(t *testing.T) {
	src := t.TempDir()
	writeTestFile(t, filepath.Join(src, "x.go"), "package x")

	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	inputs := ModuleInputs{SourceRoots: []SourceRoot{{IncludeRoot: src}}}

	rc := model.NewRunContext(model.DefaultConfig())
	f := New(rc, algo(t))
	fp1, err := f.Compute(module, inputs, mapProvider{}, fixedLookup{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rc.MemoizedFingerprint(module.String()); !ok {
		t.Fatal("expected fingerprint to be memoized in RunContext")
	}
	// A second Compute call, even with different (ignored) inputs, must
	// return the memoized value rather than recomputing.
	fp2, err := f.Compute(module, ModuleInputs{}, mapProvider{}, fixedLookup{})
	if err != nil {
		t.Fatal(err)
	}
	if fp1.Checksum != fp2.Checksum {
		t.Fatal("expected memoized checksum to be reused")
	}
}

func TestComputeRecursesIntoReactorDependency(t *testing.T) {
	depSrc := t.TempDir()
	writeTestFile(t, filepath.Join(depSrc, "lib.go"), "package lib")

	dep := model.Coordinate{GroupID: "g", ArtifactID: "dep", Version: "1.0"}
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}

	provider := mapProvider{
		dep.String(): ModuleInputs{SourceRoots: []SourceRoot{{IncludeRoot: depSrc}}},
	}
	inputs := ModuleInputs{
		Dependencies: []Dependency{{Coordinate: dep, Type: "jar"}},
	}

	rc := model.NewRunContext(model.DefaultConfig())
	f := New(rc, algo(t))
	fp, err := f.Compute(module, inputs, provider, fixedLookup{})
	if err != nil {
		t.Fatal(err)
	}
	if len(fp.Items) != 1 || fp.Items[0].Type != "dependency" {
		t.Fatalf("expected one dependency item, got %+v", fp.Items)
	}
	if _, ok := rc.MemoizedFingerprint(dep.String()); !ok {
		t.Fatal("expected the reactor dependency's own fingerprint to be memoized")
	}
}

func TestComputeDetectsCycle(t *testing.T) {
	a := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	b := model.Coordinate{GroupID: "g", ArtifactID: "b", Version: "1.0"}

	provider := mapProvider{
		a.String(): ModuleInputs{Dependencies: []Dependency{{Coordinate: b, Type: "jar"}}},
		b.String(): ModuleInputs{Dependencies: []Dependency{{Coordinate: a, Type: "jar"}}},
	}

	rc := model.NewRunContext(model.DefaultConfig())
	f := New(rc, algo(t))
	_, err := f.Compute(a, provider[a.String()], provider, fixedLookup{})
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	var fperr *model.FingerprintError
	if !asFingerprintError(err, &fperr) {
		t.Fatalf("expected *model.FingerprintError wrapping a cycle, got %T: %v", err, err)
	}
	if _, ok := fperr.Err.(*model.CycleError); !ok {
		t.Fatalf("expected wrapped *model.CycleError, got %T", fperr.Err)
	}
}

func TestComputeFallsBackToResolvedArtifactHash(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "dep.jar")
	writeTestFile(t, artifact, "jar-bytes")

	dep := model.Coordinate{GroupID: "g", ArtifactID: "dep", Version: "1.0"}
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	inputs := ModuleInputs{Dependencies: []Dependency{{Coordinate: dep, Type: "jar"}}}

	rc := model.NewRunContext(model.DefaultConfig())
	f := New(rc, algo(t))
	fp, err := f.Compute(module, inputs, mapProvider{}, fixedLookup{paths: map[string]string{dep.String(): artifact}})
	if err != nil {
		t.Fatal(err)
	}
	if fp.Items[0].Type != "dependency" || fp.Items[0].Hash == "" {
		t.Fatalf("expected resolved dependency item, got %+v", fp.Items[0])
	}
}

func TestComputeMarksUnresolvedDependency(t *testing.T) {
	dep := model.Coordinate{GroupID: "g", ArtifactID: "dep", Version: "1.0"}
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	inputs := ModuleInputs{Dependencies: []Dependency{{Coordinate: dep, Type: "jar"}}}

	rc := model.NewRunContext(model.DefaultConfig())
	f := New(rc, algo(t))
	fp, err := f.Compute(module, inputs, mapProvider{}, fixedLookup{})
	if err != nil {
		t.Fatal(err)
	}
	if fp.Items[0].Type != "unresolved" {
		t.Fatalf("expected unresolved item, got %+v", fp.Items[0])
	}
}

func asFingerprintError(err error, target **model.FingerprintError) bool {
	fe, ok := err.(*model.FingerprintError)
	if !ok {
		return false
	}
	*target = fe
	return true
}
