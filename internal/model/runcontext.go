package model

import "sync"

// Config mirrors the CLI-overridable properties of a run. It is read
// once at startup and then treated as immutable for the run.
type Config struct {
	Enabled bool

	ConfigPath string
	Location   string // local cache root override

	RemoteEnabled      bool
	RemoteURL          string
	RemoteSaveEnabled  bool
	RemoteSaveFinal    bool

	SkipCache bool
	SkipSave  bool
	FailFast  bool

	LazyRestore             bool
	RestoreGeneratedSources bool
	RestoreOnDiskArtifacts  bool

	AlwaysRunPlugins []string // "plugin[:goal]" entries

	MandatoryClean bool

	BaselineURL string

	MaxLocalBuildsCached int

	Debug bool
}

// DefaultConfig returns the documented defaults for a run's Config.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		ConfigPath:              ".mvn/maven-build-cache-config.xml",
		RestoreGeneratedSources: true,
		RestoreOnDiskArtifacts:  true,
		MaxLocalBuildsCached:    50,
	}
}

// RunContext is the single mutable struct threaded through the
// Coordinator and every component it drives, replacing the package-level
// globals (config, hash factory, SCM info, cache-result map) the source
// system keeps as mutable session-scoped state (see Design Notes §9).
//
// RunContext is safe for concurrent use by multiple modules' Coordinators
// running in different orchestrator worker threads, per §5: the
// fingerprint memo and cache-result map are the only state shared across
// modules, and both are guarded.
type RunContext struct {
	Config Config
	SCM    SCMInfo

	scmOnce sync.Once

	fingerprintMu    sync.Mutex
	fingerprintMemo  map[string]ProjectsInputInfo
	inFlightPerGoroutine sync.Map // goroutine-scoped "currently calculating" sets, keyed by an opaque caller token

	resultsMu sync.Mutex
	results   map[string]CacheResult

	forkTracker *ForkTracker
}

// NewRunContext creates a RunContext ready for use.
func NewRunContext(cfg Config) *RunContext {
	return &RunContext{
		Config:          cfg,
		fingerprintMemo: make(map[string]ProjectsInputInfo),
		results:         make(map[string]CacheResult),
		forkTracker:     NewForkTracker(),
	}
}

// InitSCM sets SCM info exactly once for the run, under a write-once
// lock, matching the "scm: initialized once per run" ownership rule.
func (rc *RunContext) InitSCM(load func() SCMInfo) SCMInfo {
	rc.scmOnce.Do(func() {
		rc.SCM = load()
	})
	return rc.SCM
}

// MemoizedFingerprint returns a previously computed fingerprint for key
// (a module's VersionlessKey plus version), if any.
func (rc *RunContext) MemoizedFingerprint(key string) (ProjectsInputInfo, bool) {
	rc.fingerprintMu.Lock()
	defer rc.fingerprintMu.Unlock()
	fp, ok := rc.fingerprintMemo[key]
	return fp, ok
}

// StoreFingerprint memoizes a computed fingerprint under key. Memoized
// values are immutable once written: a second store for the same key is
// ignored rather than silently overwriting the first, so that
// concurrent double-computation (a benign race) never corrupts an
// already-published value.
func (rc *RunContext) StoreFingerprint(key string, fp ProjectsInputInfo) {
	rc.fingerprintMu.Lock()
	defer rc.fingerprintMu.Unlock()
	if _, exists := rc.fingerprintMemo[key]; exists {
		return
	}
	rc.fingerprintMemo[key] = fp
}

// StoreResult records the single CacheResult for a module. Each module
// writes its entry at most once.
func (rc *RunContext) StoreResult(key string, r CacheResult) {
	rc.resultsMu.Lock()
	defer rc.resultsMu.Unlock()
	if _, exists := rc.results[key]; exists {
		return
	}
	rc.results[key] = r
}

// Result returns the recorded CacheResult for a module, if any.
func (rc *RunContext) Result(key string) (CacheResult, bool) {
	rc.resultsMu.Lock()
	defer rc.resultsMu.Unlock()
	r, ok := rc.results[key]
	return r, ok
}

// ForkTracker returns the run's shared fork-tracker (see ForkTracker).
func (rc *RunContext) ForkTracker() *ForkTracker {
	return rc.forkTracker
}

// inFlightSet is the "currently calculating" bookkeeping for one
// recursive fingerprint computation, keyed by an opaque per-call token so
// unrelated concurrent computations (different goroutines fingerprinting
// unrelated modules) never interfere with each other's cycle detection.
type inFlightSet struct {
	mu   sync.Mutex
	keys map[string]bool
}

// InFlightBegin registers token as the owner of a fresh in-flight set,
// for the duration of one top-level recursive fingerprint computation.
func (rc *RunContext) InFlightBegin(token interface{}) {
	rc.inFlightPerGoroutine.Store(token, &inFlightSet{keys: make(map[string]bool)})
}

// InFlightEnd releases the in-flight set registered by InFlightBegin.
func (rc *RunContext) InFlightEnd(token interface{}) {
	rc.inFlightPerGoroutine.Delete(token)
}

func (rc *RunContext) setFor(token interface{}) *inFlightSet {
	v, ok := rc.inFlightPerGoroutine.Load(token)
	if !ok {
		return nil
	}
	return v.(*inFlightSet)
}

// InFlightContains reports whether key is currently being computed within
// token's call chain, i.e. whether adding it again would close a cycle.
func (rc *RunContext) InFlightContains(token interface{}, key string) bool {
	s := rc.setFor(token)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

// InFlightAdd marks key as currently being computed within token's call
// chain.
func (rc *RunContext) InFlightAdd(token interface{}, key string) {
	s := rc.setFor(token)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = true
}

// InFlightRemove unmarks key, called when a recursive call returns
// (successfully or not).
func (rc *RunContext) InFlightRemove(token interface{}, key string) {
	s := rc.setFor(token)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}
