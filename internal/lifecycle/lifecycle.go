// Package lifecycle implements C6, the LifecycleSegmenter: splitting the
// orchestrator's ordered step list into the clean/cached/post-cached
// segments the Coordinator (C10) drives, and detecting forked execution.
// distri's own build graph has no lifecycle-phase concept, so this
// package builds on the step/phase model types directly, written in the
// same plain, small-package style as the rest of this codebase.
package lifecycle

import (
	"fmt"

	"github.com/distr1/cachecore/internal/model"
)

// Lifecycles maps phase names to their ordinal position and identifies
// which phases belong to the clean lifecycle, standing in for the
// orchestrator's opaque DefaultLifecycles provider.
type Lifecycles interface {
	// Ordinal returns phase's position across all configured
	// lifecycles, and whether phase is recognized at all.
	Ordinal(phase string) (int, bool)
	// IsClean reports whether phase belongs to the clean lifecycle.
	IsClean(phase string) bool
	// FirstPostCleanOrdinal is the ordinal of the first phase that is
	// not part of the clean lifecycle.
	FirstPostCleanOrdinal() int
}

// InvalidPhaseError reports that isLaterPhase was asked to compare a
// phase absent from every configured lifecycle.
type InvalidPhaseError struct {
	Phase string
}

func (e *InvalidPhaseError) Error() string {
	return fmt.Sprintf("lifecycle: unrecognized phase %q", e.Phase)
}

// IsLaterPhase reports whether a's ordinal is strictly greater than b's.
// Both phases must be recognized by lifecycles; otherwise it returns
// *InvalidPhaseError.
func IsLaterPhase(lifecycles Lifecycles, a, b string) (bool, error) {
	ao, ok := lifecycles.Ordinal(a)
	if !ok {
		return false, &InvalidPhaseError{Phase: a}
	}
	bo, ok := lifecycles.Ordinal(b)
	if !ok {
		return false, &InvalidPhaseError{Phase: b}
	}
	return ao > bo, nil
}

// Segmentation is the result of segmenting one module's step list.
type Segmentation struct {
	Clean       []model.Step
	Cached      []model.Step
	PostCached  []model.Step
	Forked      bool
}

// Segment splits steps per §4.6. forkedPhaseOf resolves a forked step's
// (Phase == "") originating phase, via the shared ForkTracker (fork
// detection sets Forked = true, and per spec the entire step list is
// then treated as non-lifecycle: no clean prefix, no cache lookup).
func Segment(lifecycles Lifecycles, steps []model.Step, build *model.Build, forkedPhaseOf func(step model.Step) (phase string, forked bool)) (Segmentation, error) {
	resolved := make([]model.Step, len(steps))
	var anyForked bool
	for i, s := range steps {
		resolved[i] = s
		if s.Phase == "" {
			if phase, forked := forkedPhaseOf(s); forked {
				resolved[i].Phase = phase
				anyForked = true
			}
		}
	}
	if anyForked {
		return Segmentation{Forked: true}, nil
	}

	var clean []model.Step
	for _, s := range resolved {
		if lifecycles.IsClean(s.Phase) {
			clean = append(clean, s)
		}
	}

	if build == nil {
		// No cached build to segment against: everything past clean is
		// the post-cached (i.e. "must run") segment.
		var rest []model.Step
		for _, s := range resolved {
			if !lifecycles.IsClean(s.Phase) {
				rest = append(rest, s)
			}
		}
		return Segmentation{Clean: clean, PostCached: rest}, nil
	}

	highest, ok := lifecycles.Ordinal(build.HighestCompletedPhase)
	if !ok {
		return Segmentation{}, &InvalidPhaseError{Phase: build.HighestCompletedPhase}
	}
	firstPostClean := lifecycles.FirstPostCleanOrdinal()

	var cached, post []model.Step
	for _, s := range resolved {
		if lifecycles.IsClean(s.Phase) {
			continue
		}
		ord, ok := lifecycles.Ordinal(s.Phase)
		if !ok {
			return Segmentation{}, &InvalidPhaseError{Phase: s.Phase}
		}
		if ord >= firstPostClean && ord <= highest {
			cached = append(cached, s)
		} else {
			post = append(post, s)
		}
	}

	return Segmentation{Clean: clean, Cached: cached, PostCached: post}, nil
}
