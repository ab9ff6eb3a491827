// Package localrepo implements C4, the LocalRepository: the on-disk,
// content-addressed cache tier every lookup and save passes through
// before (and often instead of) the network. Layout and atomic publish
// follow internal/repo's own package store and its renameio-based atomic
// writes.
package localrepo

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/renameio"

	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/xmlschema"
)

const (
	localTier = "local"

	buildInfoFile = "buildinfo.xml"
	lookupInfoFile = "lookupinfo.xml"
)

// Repository is the local, filesystem-backed cache tier.
type Repository struct {
	Root                 string
	MaxLocalBuildsCached int

	bestMatchCache *lru.Cache[string, []candidateBuild]
}

// New returns a Repository rooted at root (e.g. "<userHome>/build-cache"),
// with its own "v<CACHE_VERSION>" namespace directory.
func New(root string, maxLocalBuildsCached int) (*Repository, error) {
	c, err := lru.New[string, []candidateBuild](1024)
	if err != nil {
		return nil, err
	}
	return &Repository{Root: root, MaxLocalBuildsCached: maxLocalBuildsCached, bestMatchCache: c}, nil
}

func (r *Repository) versionDir() string {
	return filepath.Join(r.Root, "v"+strconv.Itoa(model.CacheImplementationVersion))
}

// artifactDir is "<root>/v<CACHE_VERSION>/<groupId>/<artifactId>".
func (r *Repository) artifactDir(c model.Coordinate) string {
	return filepath.Join(r.versionDir(), c.GroupID, c.ArtifactID)
}

// checksumDir is "<artifactDir>/<checksum>".
func (r *Repository) checksumDir(c model.Coordinate, checksum string) string {
	return filepath.Join(r.artifactDir(c), checksum)
}

func (r *Repository) localDir(c model.Coordinate, checksum string) string {
	return filepath.Join(r.checksumDir(c, checksum), localTier)
}

func (r *Repository) remoteDir(c model.Coordinate, checksum, serverID string) string {
	return filepath.Join(r.checksumDir(c, checksum), serverID)
}

// readBuildInfo loads and parses one tier's buildinfo.xml. A parse
// failure is reported as *model.CacheLookupError; callers decide how to
// recover.
func readBuildInfo(dir string) (model.Build, error) {
	path := filepath.Join(dir, buildInfoFile)
	f, err := os.Open(path)
	if err != nil {
		return model.Build{}, err
	}
	defer f.Close()
	doc, err := xmlschema.UnmarshalBuildInfo(f)
	if err != nil {
		return model.Build{}, &model.CacheLookupError{Path: path, Err: err}
	}
	return fromXML(doc), nil
}

// FindLocal reads the local tier's buildinfo.xml, returning ok=false if
// absent. A corrupt document, or one whose artifact blobs are missing
// from disk, is deleted and also reported as ok=false, matching "on
// parse failure, delete the file and return None".
func (r *Repository) FindLocal(module model.Coordinate, checksum string) (model.Build, bool, error) {
	dir := r.localDir(module, checksum)
	b, err := readBuildInfo(dir)
	if err == nil {
		if !blobsExist(dir, b) {
			os.RemoveAll(dir)
			return model.Build{}, false, nil
		}
		b.Source = model.SourceLocal
		return b, true, nil
	}
	if os.IsNotExist(err) {
		return model.Build{}, false, nil
	}
	if _, ok := err.(*model.CacheLookupError); ok {
		os.Remove(filepath.Join(dir, buildInfoFile))
		return model.Build{}, false, nil
	}
	return model.Build{}, false, err
}

// FindRemoteTier reads a previously-downloaded remote record for
// serverID, if present, without making a network call.
func (r *Repository) FindRemoteTier(module model.Coordinate, checksum, serverID string) (model.Build, bool, error) {
	dir := r.remoteDir(module, checksum, serverID)
	b, err := readBuildInfo(dir)
	if err == nil {
		if !blobsExist(dir, b) {
			os.RemoveAll(dir)
			return model.Build{}, false, nil
		}
		b.Source = model.SourceRemote
		return b, true, nil
	}
	if os.IsNotExist(err) {
		return model.Build{}, false, nil
	}
	if _, ok := err.(*model.CacheLookupError); ok {
		os.Remove(filepath.Join(dir, buildInfoFile))
		return model.Build{}, false, nil
	}
	return model.Build{}, false, err
}

// blobsExist reports whether every artifact blob b's record references
// (the primary artifact plus every attached artifact) is actually
// present under dir, the tier directory the record was read from. A
// record surviving an XML parse but missing a blob it claims to own
// (partial write, or a file deleted out from under the cache) is just
// as corrupt as a malformed buildinfo.xml.
func blobsExist(dir string, b model.Build) bool {
	if !blobExists(dir, b.Artifact.FileName) {
		return false
	}
	for _, a := range b.AttachedArtifacts {
		if !blobExists(dir, a.FileName) {
			return false
		}
	}
	return true
}

func blobExists(dir, fileName string) bool {
	if fileName == "" {
		return true
	}
	_, err := os.Stat(filepath.Join(dir, fileName))
	return err == nil || !os.IsNotExist(err)
}

// PersistRemoteTier writes a remote-fetched build record into its tier
// directory, so later lookups in the same or later runs hit FindRemoteTier
// without a network round trip.
func (r *Repository) PersistRemoteTier(module model.Coordinate, checksum, serverID string, b model.Build) error {
	dir := r.remoteDir(module, checksum, serverID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := xmlschema.MarshalBuildInfo(toXML(b))
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dir, buildInfoFile), data, 0644)
}

type candidateBuild struct {
	Version     string
	SCMBranch   string
	ModTime     time.Time
	Build       model.Build
}

// FindBestMatchingBuild walks every checksum directory under dep's
// artifactDir, loading each tier's buildinfo.xml, and returns the build
// that best matches (version, scmBranch): exact (version, branch) wins,
// then (version, *), then (*, branch), then the newest by mtime.
// Results are memoized per dependency groupId:artifactId for the life of
// the Repository, since the same dependency is typically looked up by
// many sibling modules within one run.
func (r *Repository) FindBestMatchingBuild(dep model.Coordinate, scmBranch string) (model.Build, bool, error) {
	key := dep.VersionlessKey()
	candidates, ok := r.bestMatchCache.Get(key)
	if !ok {
		var err error
		candidates, err = r.scanCandidates(dep)
		if err != nil {
			return model.Build{}, false, err
		}
		r.bestMatchCache.Add(key, candidates)
	}
	if len(candidates) == 0 {
		return model.Build{}, false, nil
	}

	var (
		exactBoth, exactVersion, exactBranch, newest *candidateBuild
	)
	for i := range candidates {
		c := &candidates[i]
		switch {
		case c.Version == dep.Version && c.SCMBranch == scmBranch:
			if exactBoth == nil || c.ModTime.After(exactBoth.ModTime) {
				exactBoth = c
			}
		case c.Version == dep.Version:
			if exactVersion == nil || c.ModTime.After(exactVersion.ModTime) {
				exactVersion = c
			}
		case c.SCMBranch == scmBranch:
			if exactBranch == nil || c.ModTime.After(exactBranch.ModTime) {
				exactBranch = c
			}
		}
		if newest == nil || c.ModTime.After(newest.ModTime) {
			newest = c
		}
	}
	for _, c := range []*candidateBuild{exactBoth, exactVersion, exactBranch, newest} {
		if c != nil {
			return c.Build, true, nil
		}
	}
	return model.Build{}, false, nil
}

func (r *Repository) scanCandidates(dep model.Coordinate) ([]candidateBuild, error) {
	dir := r.artifactDir(dep)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []candidateBuild
	for _, checksumEntry := range entries {
		if !checksumEntry.IsDir() {
			continue
		}
		checksumDir := filepath.Join(dir, checksumEntry.Name())
		tiers, err := os.ReadDir(checksumDir)
		if err != nil {
			continue
		}
		for _, tier := range tiers {
			if !tier.IsDir() {
				continue
			}
			tierDir := filepath.Join(checksumDir, tier.Name())
			b, err := readBuildInfo(tierDir)
			if err != nil {
				continue
			}
			info, err := os.Stat(filepath.Join(tierDir, buildInfoFile))
			if err != nil {
				continue
			}
			out = append(out, candidateBuild{
				Version:   b.Artifact.Version,
				SCMBranch: b.SCM.SourceBranch,
				ModTime:   info.ModTime(),
				Build:     b,
			})
		}
	}
	return out, nil
}

// BeforeSave enforces maxLocalBuildsCached ahead of a save, without
// touching the checksum directory about to be written. Eviction here is
// best-effort: concurrent saves evicting each other is tolerated.
func (r *Repository) BeforeSave(module model.Coordinate) error {
	return r.trimToMax(module)
}

// ClearCache deletes the current module's local tree and, if
// MaxLocalBuildsCached is exceeded, the oldest sibling checksum
// directories under the module's artifactDir.
func (r *Repository) ClearCache(module model.Coordinate, checksum string) error {
	if err := os.RemoveAll(r.localDir(module, checksum)); err != nil {
		return err
	}
	return r.trimToMax(module)
}

func (r *Repository) trimToMax(module model.Coordinate) error {
	if r.MaxLocalBuildsCached <= 0 {
		return nil
	}
	dir := r.artifactDir(module)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) <= r.MaxLocalBuildsCached {
		return nil
	}

	type sibling struct {
		path    string
		modTime time.Time
	}
	var siblings []sibling
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		siblings = append(siblings, sibling{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(siblings, func(i, j int) bool { return siblings[i].modTime.Before(siblings[j].modTime) })

	excess := len(siblings) - r.MaxLocalBuildsCached
	for i := 0; i < excess; i++ {
		os.RemoveAll(siblings[i].path)
	}
	return nil
}

// SaveBuild atomically publishes b's buildinfo.xml into the local tier.
func (r *Repository) SaveBuild(module model.Coordinate, checksum string, b model.Build) error {
	dir := r.localDir(module, checksum)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &model.SaveError{Checksum: checksum, Err: err}
	}
	data, err := xmlschema.MarshalBuildInfo(toXML(b))
	if err != nil {
		return &model.SaveError{Checksum: checksum, Err: err}
	}
	if err := renameio.WriteFile(filepath.Join(dir, buildInfoFile), data, 0644); err != nil {
		return &model.SaveError{Checksum: checksum, Err: err}
	}
	return nil
}

// SaveArtifact atomically publishes one artifact blob into the local
// tier, under its declared file name.
func (r *Repository) SaveArtifact(module model.Coordinate, checksum, fileName string, data []byte) error {
	dir := r.localDir(module, checksum)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &model.SaveError{Checksum: checksum, Err: err}
	}
	if err := renameio.WriteFile(filepath.Join(dir, fileName), data, 0644); err != nil {
		return &model.SaveError{Checksum: checksum, Err: err}
	}
	return nil
}

// SaveReport atomically publishes report data (cache-report or diff XML)
// at path, relative to the local tier directory.
func (r *Repository) SaveReport(module model.Coordinate, checksum, relPath string, data []byte) error {
	dir := r.localDir(module, checksum)
	full := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return &model.SaveError{Checksum: checksum, Err: err}
	}
	if err := renameio.WriteFile(full, data, 0644); err != nil {
		return &model.SaveError{Checksum: checksum, Err: err}
	}
	return nil
}

// ArtifactPath returns the on-disk path of a local-tier artifact file,
// for the Restorer to read or hand out as a lazy handle.
func (r *Repository) ArtifactPath(module model.Coordinate, checksum, fileName string) string {
	return filepath.Join(r.localDir(module, checksum), fileName)
}
