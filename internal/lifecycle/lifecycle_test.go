package lifecycle

import (
	"testing"

	"github.com/distr1/cachecore/internal/model"
)

type fakeLifecycles struct {
	ordinals map[string]int
	clean    map[string]bool
}

func (f fakeLifecycles) Ordinal(phase string) (int, bool) {
	o, ok := f.ordinals[phase]
	return o, ok
}
func (f fakeLifecycles) IsClean(phase string) bool { return f.clean[phase] }
func (f fakeLifecycles) FirstPostCleanOrdinal() int { return f.ordinals["compile"] }

func standardLifecycles() fakeLifecycles {
	return fakeLifecycles{
		ordinals: map[string]int{"clean": 0, "compile": 1, "test": 2, "package": 3},
		clean:    map[string]bool{"clean": true},
	}
}

func noForks(model.Step) (string, bool) { return "", false }

func TestSegmentCleanCachedPostCached(t *testing.T) {
	lc := standardLifecycles()
	steps := []model.Step{
		{ExecutionID: "1", Goal: "clean", Phase: "clean"},
		{ExecutionID: "2", Goal: "compile", Phase: "compile"},
		{ExecutionID: "3", Goal: "test", Phase: "test"},
		{ExecutionID: "4", Goal: "package", Phase: "package"},
	}
	build := &model.Build{HighestCompletedPhase: "test"}

	seg, err := Segment(lc, steps, build, noForks)
	if err != nil {
		t.Fatal(err)
	}
	if len(seg.Clean) != 1 || seg.Clean[0].Goal != "clean" {
		t.Fatalf("unexpected clean segment: %+v", seg.Clean)
	}
	if len(seg.Cached) != 2 || seg.Cached[0].Goal != "compile" || seg.Cached[1].Goal != "test" {
		t.Fatalf("unexpected cached segment: %+v", seg.Cached)
	}
	if len(seg.PostCached) != 1 || seg.PostCached[0].Goal != "package" {
		t.Fatalf("unexpected post-cached segment: %+v", seg.PostCached)
	}
}

func TestSegmentForkedExecutionTreatsWholeListAsNonLifecycle(t *testing.T) {
	lc := standardLifecycles()
	steps := []model.Step{
		{ExecutionID: "1", Goal: "compile", Phase: "compile"},
		{ExecutionID: "2", Goal: "forked-goal", Phase: ""},
	}
	forked := func(s model.Step) (string, bool) {
		if s.ExecutionID == "2" {
			return "compile", true
		}
		return "", false
	}
	seg, err := Segment(lc, steps, nil, forked)
	if err != nil {
		t.Fatal(err)
	}
	if !seg.Forked {
		t.Fatal("expected Forked to be true")
	}
	if len(seg.Clean) != 0 || len(seg.Cached) != 0 || len(seg.PostCached) != 0 {
		t.Fatalf("expected no segmentation when forked, got %+v", seg)
	}
}

func TestIsLaterPhase(t *testing.T) {
	lc := standardLifecycles()
	later, err := IsLaterPhase(lc, "test", "compile")
	if err != nil {
		t.Fatal(err)
	}
	if !later {
		t.Fatal("expected test to be later than compile")
	}
	if _, err := IsLaterPhase(lc, "bogus", "compile"); err == nil {
		t.Fatal("expected InvalidPhaseError for an unrecognized phase")
	}
}
