package reconcile

import (
	"testing"

	"github.com/distr1/cachecore/internal/model"
)

type fakeParams map[string]interface{}

func (f fakeParams) ValueOf(name string) (interface{}, bool) {
	v, ok := f[name]
	return v, ok
}

func step(id string, params fakeParams) model.Step {
	return model.Step{ExecutionID: id, Goal: "compile", Introspect: params}
}

func TestReconcileConsistentWhenValuesMatch(t *testing.T) {
	s := step("1", fakeParams{"source": "11"})
	cached := model.CompletedExecution{Properties: []model.PropertyValue{{Name: "source", Value: "11", Tracked: true}}}
	res := Reconcile(s, []TrackedParameter{{Name: "source"}}, cached, "", nil)
	if !res.Consistent {
		t.Fatalf("expected consistent, got mismatches %+v", res.Mismatches)
	}
}

func TestReconcileDetectsMismatch(t *testing.T) {
	s := step("1", fakeParams{"source": "17"})
	cached := model.CompletedExecution{Properties: []model.PropertyValue{{Name: "source", Value: "11", Tracked: true}}}
	res := Reconcile(s, []TrackedParameter{{Name: "source"}}, cached, "", nil)
	if res.Consistent {
		t.Fatal("expected inconsistency")
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].Current != "17" || res.Mismatches[0].Baseline != "11" {
		t.Fatalf("unexpected mismatches: %+v", res.Mismatches)
	}
}

func TestReconcileMissingFromCachedRecordIsMismatch(t *testing.T) {
	s := step("1", fakeParams{"encoding": "UTF-8"})
	cached := model.CompletedExecution{}
	res := Reconcile(s, []TrackedParameter{{Name: "encoding"}}, cached, "", nil)
	if res.Consistent {
		t.Fatal("expected inconsistency for a tracked parameter absent from the cached record")
	}
}

func TestReconcileSkipValueWarnsWithoutFailing(t *testing.T) {
	s := step("1", fakeParams{"verbose": "skip-me"})
	cached := model.CompletedExecution{}
	res := Reconcile(s, []TrackedParameter{{Name: "verbose", SkipValue: "skip-me"}}, cached, "", nil)
	if !res.Consistent {
		t.Fatal("expected skipValue to avoid failing the comparison")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one warning, got %+v", res.Warnings)
	}
}

type alwaysForced struct{}

func (alwaysForced) IsForced(model.Step) bool { return true }

func TestReconcileForcedStepNeverCompared(t *testing.T) {
	s := step("1", fakeParams{"source": "17"})
	cached := model.CompletedExecution{Properties: []model.PropertyValue{{Name: "source", Value: "11"}}}
	res := Reconcile(s, []TrackedParameter{{Name: "source"}}, cached, "", alwaysForced{})
	if !res.Forced || !res.Consistent {
		t.Fatalf("expected a forced, trivially-consistent result, got %+v", res)
	}
}

func TestNormalizeRelativizesPathsUnderModuleBase(t *testing.T) {
	got := Normalize("/module/target/classes", "/module")
	if got != "target/classes" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeLeavesPathsOutsideModuleBaseUnchanged(t *testing.T) {
	got := Normalize("/other/classes", "/module")
	if got != "/other/classes" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeArray(t *testing.T) {
	got := Normalize([]string{"a", "b", "c"}, "")
	if got != "[a, b, c]" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeNull(t *testing.T) {
	if got := Normalize(nil, ""); got != "null" {
		t.Fatalf("got %q", got)
	}
}

func TestReconcileSegmentReportsInconsistency(t *testing.T) {
	steps := []model.Step{step("1", fakeParams{"source": "17"})}
	trackedOf := func(model.Step) []TrackedParameter { return []TrackedParameter{{Name: "source"}} }
	cachedOf := func(model.Step) (model.CompletedExecution, bool) {
		return model.CompletedExecution{Properties: []model.PropertyValue{{Name: "source", Value: "11"}}}, true
	}
	_, inconsistent := ReconcileSegment(steps, trackedOf, cachedOf, "", nil)
	if !inconsistent {
		t.Fatal("expected inconsistent segment")
	}
}
