package restore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/reconcile"
)

type fakeBlobs struct{ written map[string]bool }

func (f *fakeBlobs) EnsureLocal(module model.Coordinate, checksum, fileName, localPath string) error {
	if f.written == nil {
		f.written = make(map[string]bool)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	f.written[localPath] = true
	return os.WriteFile(localPath, []byte("restored"), 0644)
}

func noTracked(model.Step) []reconcile.TrackedParameter { return nil }
func noCached(model.Step) (model.CompletedExecution, bool) { return model.CompletedExecution{}, true }

func TestRestoreRunsPostCachedSegmentAndAttaches(t *testing.T) {
	base := t.TempDir()
	var attached []model.ArtifactDescriptor
	var ran []string

	req := Request{
		Module:                 model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"},
		Checksum:               "abc",
		Build:                  model.Build{Artifact: model.ArtifactDescriptor{FileName: "a.jar", FilePath: "target/a.jar"}},
		ModuleBase:             base,
		RestoreOnDiskArtifacts: true,
		TrackedOf:              noTracked,
		CachedExecutionOf:      noCached,
		Blobs:                  &fakeBlobs{},
		AttachArtifact: func(a model.ArtifactDescriptor, h *ArtifactHandle) error {
			attached = append(attached, a)
			return h.Materialize()
		},
		PostCachedSegment: []model.Step{{ExecutionID: "package", Goal: "package"}},
		RunStep: func(s model.Step) error {
			ran = append(ran, s.ExecutionID)
			return nil
		},
	}

	status, err := Restorer{}.Restore(req)
	if err != nil {
		t.Fatal(err)
	}
	if status != model.RestorationSuccess {
		t.Fatalf("expected Success, got %v", status)
	}
	if len(attached) != 1 {
		t.Fatalf("expected one attached artifact, got %v", attached)
	}
	if _, err := os.Stat(filepath.Join(base, "target", "a.jar")); err != nil {
		t.Fatalf("expected artifact to be materialized: %v", err)
	}
	if len(ran) != 1 || ran[0] != "package" {
		t.Fatalf("expected the post-cached segment to run, got %v", ran)
	}
}

type alwaysForced struct{}

func (alwaysForced) IsForced(model.Step) bool { return true }

func TestRestoreRerunsForcedStepOnCacheHit(t *testing.T) {
	base := t.TempDir()
	var ran []string

	req := Request{
		ModuleBase:        base,
		ForcedSteps:       []model.Step{{ExecutionID: "checkstyle", Goal: "check"}},
		PostCachedSegment: []model.Step{{ExecutionID: "package", Goal: "package"}},
		TrackedOf:         noTracked,
		CachedExecutionOf: noCached,
		Forced:            alwaysForced{},
		RunStep: func(s model.Step) error {
			ran = append(ran, s.ExecutionID)
			return nil
		},
	}

	status, err := Restorer{}.Restore(req)
	if err != nil {
		t.Fatal(err)
	}
	if status != model.RestorationSuccess {
		t.Fatalf("expected Success, got %v", status)
	}
	if len(ran) != 2 || ran[0] != "checkstyle" || ran[1] != "package" {
		t.Fatalf("expected forced step to re-run ahead of the post-cached segment, got %v", ran)
	}
}

func TestRestoreReturnsFailureOnInconsistency(t *testing.T) {
	base := t.TempDir()
	req := Request{
		ModuleBase: base,
		CachedSegment: []model.Step{{ExecutionID: "1", Goal: "compile"}},
		TrackedOf: func(model.Step) []reconcile.TrackedParameter {
			return []reconcile.TrackedParameter{{Name: "source"}}
		},
		CachedExecutionOf: func(model.Step) (model.CompletedExecution, bool) {
			return model.CompletedExecution{}, false
		},
	}
	status, err := Restorer{}.Restore(req)
	if err != nil {
		t.Fatal(err)
	}
	if status != model.RestorationFailure {
		t.Fatalf("expected Failure, got %v", status)
	}
}

func TestLazyRestoreDefersMaterialization(t *testing.T) {
	base := t.TempDir()
	blobs := &fakeBlobs{}
	req := Request{
		Module:                 model.Coordinate{GroupID: "g", ArtifactID: "a"},
		Build:                  model.Build{Artifact: model.ArtifactDescriptor{FileName: "a.jar", FilePath: "target/a.jar"}},
		ModuleBase:             base,
		RestoreOnDiskArtifacts: true,
		LazyRestore:            true,
		TrackedOf:              noTracked,
		CachedExecutionOf:      noCached,
		Blobs:                  blobs,
		AttachArtifact: func(model.ArtifactDescriptor, *ArtifactHandle) error {
			return nil // deliberately never call Materialize
		},
	}
	if _, err := (Restorer{}).Restore(req); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(base, "target", "a.jar")); err == nil {
		t.Fatal("expected lazyRestore to defer materialization until first access")
	}
}

func TestStagingRoundTrip(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(base, "target", "classes")
	if err := os.MkdirAll(out, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "A.class"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	staged, err := Stage(base, []string{"target/classes"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(out, "A.class")); err == nil {
		t.Fatal("expected the pre-existing file to be staged out of the way")
	}

	if err := staged.RestoreUntouched(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(out, "A.class"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old" {
		t.Fatalf("expected the untouched file to be restored, got %q", data)
	}
}

func TestStagingDiscardsRebuiltOutputs(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(base, "target", "classes")
	if err := os.MkdirAll(out, 0755); err != nil {
		t.Fatal(err)
	}
	rel := filepath.Join("target", "classes", "A.class")
	if err := os.WriteFile(filepath.Join(base, rel), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	staged, err := Stage(base, []string{"target/classes"})
	if err != nil {
		t.Fatal(err)
	}
	// Simulate the step rebuilding A.class fresh.
	if err := os.WriteFile(filepath.Join(base, rel), []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	staged.Discard(rel)
	if err := staged.RestoreUntouched(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(base, rel))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Fatalf("expected the freshly rebuilt content to survive, got %q", data)
	}
}
