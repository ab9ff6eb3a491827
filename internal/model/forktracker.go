package model

import "sync"

// ForkTracker records forked-execution lifecycle events so the
// LifecycleSegmenter (C6) can attribute a forked step (one with no bound
// Phase) to the phase of its originating step. It is shared with the
// orchestrator's event bus via the callbacks below; reads happen only
// from the thread of the owning module, so the mutex here only protects
// against the append from a different module's callback racing a read
// (per §5, "no implicit thread-local": state lives on this struct, not a
// goroutine-local).
type ForkTracker struct {
	mu    sync.Mutex
	stack map[string][]string // project key -> stack of originating phases
}

// NewForkTracker returns an empty ForkTracker.
func NewForkTracker() *ForkTracker {
	return &ForkTracker{stack: make(map[string][]string)}
}

// ForkedProjectStarted pushes phase as the new top of project's fork
// stack; steps with no bound phase that run while this frame is on top
// are attributed to phase.
func (f *ForkTracker) ForkedProjectStarted(project, phase string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stack[project] = append(f.stack[project], phase)
}

// ForkedProjectSucceeded pops project's fork stack.
func (f *ForkTracker) ForkedProjectSucceeded(project string) {
	f.pop(project)
}

// ForkedProjectFailed pops project's fork stack; the frame is discarded
// the same as on success, since the cache engine does not distinguish
// why a forked project's scope ended.
func (f *ForkTracker) ForkedProjectFailed(project string) {
	f.pop(project)
}

func (f *ForkTracker) pop(project string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stack[project]
	if len(s) == 0 {
		return
	}
	f.stack[project] = s[:len(s)-1]
}

// OriginatingPhase returns the phase a step with no bound Phase should be
// attributed to for project, and whether project is currently inside any
// forked scope at all.
func (f *ForkTracker) OriginatingPhase(project string) (phase string, forked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stack[project]
	if len(s) == 0 {
		return "", false
	}
	return s[len(s)-1], true
}

// IsForked reports whether project currently has any open forked scope.
// Per §4.6, when true the entire step list is treated as non-lifecycle.
func (f *ForkTracker) IsForked(project string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stack[project]) > 0
}
