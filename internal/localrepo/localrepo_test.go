package localrepo

import (
	"testing"
	"time"

	"github.com/distr1/cachecore/internal/model"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := New(t.TempDir(), 2)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSaveThenFindLocal(t *testing.T) {
	r := newRepo(t)
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	b := model.Build{
		CacheImplementationVersion: model.CacheImplementationVersion,
		HashAlgorithm:              "SHA-256",
		Fingerprint:                model.ProjectsInputInfo{Checksum: "abc"},
		Artifact:                   model.ArtifactDescriptor{GroupID: "g", ArtifactID: "a", Version: "1.0", Type: "jar", FileName: "a.jar"},
	}
	if err := r.SaveBuild(module, "abc", b); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveArtifact(module, "abc", "a.jar", []byte("jar bytes")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := r.FindLocal(module, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a local record")
	}
	if got.Fingerprint.Checksum != "abc" {
		t.Fatalf("got checksum %q", got.Fingerprint.Checksum)
	}
}

func TestFindLocalMissing(t *testing.T) {
	r := newRepo(t)
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	_, ok, err := r.FindLocal(module, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no record")
	}
}

func TestFindLocalEvictsRecordWithMissingBlob(t *testing.T) {
	r := newRepo(t)
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	b := model.Build{
		Fingerprint: model.ProjectsInputInfo{Checksum: "abc"},
		Artifact:    model.ArtifactDescriptor{FileName: "a.jar"},
	}
	if err := r.SaveBuild(module, "abc", b); err != nil {
		t.Fatal(err)
	}
	// a.jar was never written: the record references a blob that isn't there.
	if _, ok, err := r.FindLocal(module, "abc"); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatal("expected a record with a missing blob to be treated as corrupt")
	}
	if _, ok, _ := r.FindLocal(module, "abc"); ok {
		t.Fatal("expected the corrupt record to have been evicted, not merely hidden once")
	}
}

func TestClearCacheTrimsOldestSiblings(t *testing.T) {
	r := newRepo(t)
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	for _, sum := range []string{"one", "two", "three"} {
		b := model.Build{Fingerprint: model.ProjectsInputInfo{Checksum: sum}}
		if err := r.SaveBuild(module, sum, b); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := r.trimToMax(module); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.FindLocal(module, "one"); ok {
		t.Fatal("expected the oldest sibling to be trimmed")
	}
	if _, ok, _ := r.FindLocal(module, "three"); !ok {
		t.Fatal("expected the newest sibling to survive")
	}
}

func TestFindBestMatchingBuildPrefersExactMatch(t *testing.T) {
	r := newRepo(t)
	dep := model.Coordinate{GroupID: "g", ArtifactID: "dep", Version: "2.0"}

	save := func(checksum, version, branch string) {
		b := model.Build{
			SCM:      model.SCMInfo{SourceBranch: branch},
			Artifact: model.ArtifactDescriptor{Version: version},
		}
		if err := r.SaveBuild(model.Coordinate{GroupID: "g", ArtifactID: "dep", Version: version}, checksum, b); err != nil {
			t.Fatal(err)
		}
	}
	save("c1", "1.0", "main")
	save("c2", "2.0", "feature")
	save("c3", "2.0", "main")

	got, ok, err := r.FindBestMatchingBuild(dep, "main")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if got.SCM.SourceBranch != "main" || got.Artifact.Version != "2.0" {
		t.Fatalf("expected exact (version,branch) match, got %+v", got)
	}
}

func TestShouldCallRemoteThrottle(t *testing.T) {
	r := newRepo(t)
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}

	if !r.ShouldCallRemote(module, "abc", "origin", time.Now()) {
		t.Fatal("expected first lookup with no marker to call remote")
	}
	if err := r.RecordNegativeLookup(module, "abc", "origin"); err != nil {
		t.Fatal(err)
	}
	if r.ShouldCallRemote(module, "abc", "origin", time.Now()) {
		t.Fatal("expected an immediate re-lookup to be throttled")
	}
	future := time.Now().Add(2 * time.Minute)
	if !r.ShouldCallRemote(module, "abc", "origin", future) {
		t.Fatal("expected the lookup to be allowed again after the first backoff window")
	}
}
