// Package reconcile implements C7, the ReconciliationEngine: comparing a
// step's live tracked-parameter values against what was recorded in a
// cached CompletedExecution, to decide whether a cache hit is still
// trustworthy. Follows the install pipeline's own approach
// (internal/install), which re-derives a package's manifest fields from
// its installed state and compares them before trusting a cached
// decision; the comparison and normalization rules here are new but
// written in that same plain, no-reflection-magic idiom.
package reconcile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/distr1/cachecore/internal/model"
)

// TrackedParameter names one parameter of one step that participates in
// reconciliation.
type TrackedParameter struct {
	Name      string
	SkipValue string // if the live value equals this, warn but don't fail
}

// ForcedMatcher decides whether a step is exempt from reconciliation and
// always runs: configured runAlways rules (by plugin, execution id, or
// goal) or a CLI plugin[:goal] wildcard list.
type ForcedMatcher interface {
	IsForced(step model.Step) bool
}

// Mismatch is one reconciliation failure, corresponding to a <mismatch>
// element in diff.xml.
type Mismatch struct {
	Item       string
	Current    string
	Baseline   string
	Reason     string
	Resolution string
	Context    string
}

// Warning is a non-fatal reconciliation note (skipValue hit).
type Warning struct {
	Item    string
	Message string
}

// Result is the outcome of reconciling one step.
type Result struct {
	Step      model.Step
	Forced    bool
	Consistent bool
	Mismatches []Mismatch
	Warnings   []Warning
}

// Normalize applies the §4.7 normalization rules to one tracked
// property's raw value, given the module base directory (for path
// relativization). It is used identically at save time (building the
// cached record) and at verify time (building the live comparison
// value), which is what makes P6 (reconciliation symmetry) hold.
func Normalize(raw interface{}, moduleBase string) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case string:
		return normalizeMaybePath(v, moduleBase)
	case []string:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = normalizeMaybePath(s, moduleBase)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []interface{}:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = Normalize(s, moduleBase)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case fmt.Stringer:
		return normalizeMaybePath(v.String(), moduleBase)
	default:
		return normalizeMaybePath(fmt.Sprintf("%v", v), moduleBase)
	}
}

func normalizeMaybePath(s, moduleBase string) string {
	if moduleBase == "" || !filepath.IsAbs(s) {
		return s
	}
	rel, err := filepath.Rel(moduleBase, s)
	if err != nil || strings.HasPrefix(rel, "..") {
		return s
	}
	return filepath.ToSlash(filepath.Clean(rel))
}

// Reconcile compares step's live tracked values (read via
// model.ParameterIntrospectable) against cached's recorded properties.
// A forced step is never reconciled and is reported Consistent with
// Forced=true. A tracked parameter absent from the cached record is a
// mismatch (§4.7 "also triggers inconsistency").
func Reconcile(step model.Step, tracked []TrackedParameter, cached model.CompletedExecution, moduleBase string, forced ForcedMatcher) Result {
	if forced != nil && forced.IsForced(step) {
		return Result{Step: step, Forced: true, Consistent: true}
	}

	byName := make(map[string]model.PropertyValue, len(cached.Properties))
	for _, p := range cached.Properties {
		byName[p.Name] = p
	}

	res := Result{Step: step, Consistent: true}
	for _, tp := range tracked {
		raw, ok := step.Introspect.ValueOf(tp.Name)
		current := "null"
		if ok {
			current = Normalize(raw, moduleBase)
		}
		if tp.SkipValue != "" && current == tp.SkipValue {
			res.Warnings = append(res.Warnings, Warning{
				Item:    tp.Name,
				Message: "cache may be incomplete",
			})
			continue
		}
		baseline, present := byName[tp.Name]
		if !present {
			res.Consistent = false
			res.Mismatches = append(res.Mismatches, Mismatch{
				Item:       tp.Name,
				Current:    current,
				Baseline:   "",
				Reason:     "missing from cached record",
				Resolution: "rebuild",
				Context:    step.Key(),
			})
			continue
		}
		if baseline.Value != current {
			res.Consistent = false
			res.Mismatches = append(res.Mismatches, Mismatch{
				Item:       tp.Name,
				Current:    current,
				Baseline:   baseline.Value,
				Reason:     "parameter value changed",
				Resolution: "rebuild",
				Context:    step.Key(),
			})
		}
	}

	sort.Slice(res.Mismatches, func(i, j int) bool { return res.Mismatches[i].Item < res.Mismatches[j].Item })
	return res
}

// ReconcileSegment reconciles every step in a cached segment, returning
// inconsistent=true (and the collected per-step results) if any
// non-forced step is inconsistent, per §4.8 step 1: "If any non-forced
// step is inconsistent, return Failure".
func ReconcileSegment(steps []model.Step, trackedOf func(model.Step) []TrackedParameter, cachedOf func(model.Step) (model.CompletedExecution, bool), moduleBase string, forced ForcedMatcher) (results []Result, inconsistent bool) {
	for _, s := range steps {
		cached, ok := cachedOf(s)
		if !ok {
			results = append(results, Result{Step: s, Consistent: false, Mismatches: []Mismatch{{
				Item: "execution", Reason: "no cached execution record", Resolution: "rebuild", Context: s.Key(),
			}}})
			inconsistent = true
			continue
		}
		r := Reconcile(s, trackedOf(s), cached, moduleBase, forced)
		results = append(results, r)
		if !r.Forced && !r.Consistent {
			inconsistent = true
		}
	}
	return results, inconsistent
}
