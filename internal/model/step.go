package model

// StepSource distinguishes a step requested directly on the command line
// from one that is part of the orchestrator's declared lifecycle.
type StepSource int

const (
	SourceLifecycle StepSource = iota
	SourceCLI
)

// PluginCoordinate identifies the plugin that implements a Step.
type PluginCoordinate struct {
	GroupID    string
	ArtifactID string
	Version    string
}

// Step is one unit in the orchestrator's ordered step list (called
// MojoExecution in the upstream system this cache integrates with). Two
// steps are equal for cache purposes iff their Key()s match.
type Step struct {
	ExecutionID string
	Goal        string
	Plugin      PluginCoordinate
	Phase       string // may be empty: forked steps have no bound phase
	Source      StepSource

	// Introspect reads the step's current parameter values by name, the
	// statically typed substitute for the upstream system's runtime
	// reflection (see Design Notes: ParameterIntrospectable).
	Introspect ParameterIntrospectable

	// Forced steps always run and are never reconciled (e.g. configured
	// via runAlways, or a CLI alwaysRunPlugins wildcard match).
	Forced bool
}

// Key returns the cache-equality key for the step:
// "executionId:goal:phase:plugin.artifactId:plugin.groupId".
func (s Step) Key() string {
	return s.ExecutionID + ":" + s.Goal + ":" + s.Phase + ":" + s.Plugin.ArtifactID + ":" + s.Plugin.GroupID
}

// ParameterIntrospectable lets a step-plugin adapter expose its current
// parameter values by name, read by the ReconciliationEngine (C7) and
// recorded by the Saver (C9). Implementations are supplied by the caller
// (cmd/cachectl builds one from each step's JSON parameters); this
// interface replaces runtime field reflection with a static contract.
type ParameterIntrospectable interface {
	// ValueOf returns the current value of the named parameter and
	// whether the parameter exists on this step at all. The returned
	// value is raw (pre-normalization); callers apply normalization
	// rules (see reconcile.Normalize).
	ValueOf(name string) (value interface{}, ok bool)
}

// PropertyValue is one tracked (or recorded) step parameter, after
// normalization.
type PropertyValue struct {
	Name    string
	Value   string
	Tracked bool
}

// CompletedExecution is the recorded parameter set for one step of a
// cached build, keyed by the step's Key().
type CompletedExecution struct {
	ExecutionKey  string
	MojoClassName string
	Properties    []PropertyValue
}
